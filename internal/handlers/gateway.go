//go:generate go run go.uber.org/mock/mockgen -source=gateway.go -destination=../../mocks/mock_gateway.go -package=mocks
package handlers

import (
	"context"

	"github.com/Brownie44l1/xray-bot/internal/model"
)

// Button is one inline keyboard option.
type Button struct {
	Text string
	Data string
}

// Gateway is the outbound side of the messaging platform.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
	SendKeyboard(ctx context.Context, chatID, replyTo int64, text string, buttons []Button) error
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID string) error
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Normalizer turns encoded image bytes into a classifier input tensor.
type Normalizer interface {
	Normalize(raw []byte) (model.Tensor, error)
}
