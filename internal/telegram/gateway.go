package telegram

import (
	"context"
	"log/slog"

	"github.com/Brownie44l1/xray-bot/internal/handlers"
	"github.com/samber/lo"
)

const keyboardRowWidth = 3

// Gateway adapts the Bot API to the conversation handler.
type Gateway struct {
	api      *API
	log      *slog.Logger
	maxBytes int64
}

func NewGateway(api *API, log *slog.Logger, maxBytes int64) *Gateway {
	return &Gateway{api: api, log: log, maxBytes: maxBytes}
}

func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) error {
	return g.api.SendMessage(ctx, sendMessageRequest{ChatID: chatID, Text: text})
}

func (g *Gateway) SendTyping(ctx context.Context, chatID int64) error {
	return g.api.SendChatAction(ctx, chatID, "typing")
}

func (g *Gateway) SendKeyboard(ctx context.Context, chatID, replyTo int64, text string, buttons []handlers.Button) error {
	row := lo.Map(buttons, func(b handlers.Button, _ int) InlineKeyboardButton {
		return InlineKeyboardButton{Text: b.Text, CallbackData: b.Data}
	})
	return g.api.SendMessage(ctx, sendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: replyTo,
		ReplyMarkup:      &InlineKeyboardMarkup{InlineKeyboard: lo.Chunk(row, keyboardRowWidth)},
	})
}

func (g *Gateway) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return g.api.EditMessageText(ctx, chatID, messageID, text)
}

func (g *Gateway) AnswerCallback(ctx context.Context, callbackID string) error {
	return g.api.AnswerCallbackQuery(ctx, callbackID)
}

func (g *Gateway) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := g.api.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if g.maxBytes > 0 && file.FileSize > g.maxBytes {
		return nil, ErrFileTooLarge
	}
	data, err := g.api.Download(ctx, file.FilePath, g.maxBytes)
	if err != nil {
		return nil, err
	}
	g.log.Debug("File downloaded", "file_id", fileID, "bytes", len(data))
	return data, nil
}
