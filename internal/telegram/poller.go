package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/xray-bot/internal/dispatch"
	"github.com/Brownie44l1/xray-bot/internal/handlers"
)

type EventHandler interface {
	Handle(ctx context.Context, ev handlers.Event)
}

type Dispatcher interface {
	Submit(key string, job dispatch.Job) error
	Go(job dispatch.Job) error
}

// Poller pulls updates with long polling and routes them: anything that can
// touch an analysis is queued per session, the rest runs right away.
type Poller struct {
	api         *API
	log         *slog.Logger
	dispatcher  Dispatcher
	handler     EventHandler
	pollTimeout time.Duration
	retryDelay  time.Duration
}

func NewPoller(api *API, log *slog.Logger, dispatcher Dispatcher, handler EventHandler, pollTimeout time.Duration) *Poller {
	if pollTimeout <= 0 {
		pollTimeout = 60 * time.Second
	}
	return &Poller{
		api:         api,
		log:         log,
		dispatcher:  dispatcher,
		handler:     handler,
		pollTimeout: pollTimeout,
		retryDelay:  time.Second,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	for {
		updates, next, err := p.api.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("Telegram polling stopped")
				return nil
			}
			if isPollTimeout(err) {
				p.log.Debug("Telegram poll timeout", "error", err)
				continue
			}
			if isFatal(err) {
				return fmt.Errorf("telegram polling aborted: %w", err)
			}
			p.log.Warn("Telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			ev, ok := ToEvent(u)
			if !ok {
				p.log.Debug("Skipping unsupported update", "update_id", u.UpdateID)
				continue
			}
			p.route(ev)
		}
	}
}

// isFatal reports errors that retrying cannot fix: a rejected token or
// another consumer (webhook or second poller) owning the update stream.
func isFatal(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.StatusCode == http.StatusUnauthorized || reqErr.StatusCode == http.StatusConflict
}

func (p *Poller) route(ev handlers.Event) {
	job := func(ctx context.Context) { p.handler.Handle(ctx, ev) }

	var err error
	if ev.ReadOnly() {
		err = p.dispatcher.Go(job)
	} else {
		err = p.dispatcher.Submit(ev.SessionID().String(), job)
	}
	if err != nil && !errors.Is(err, dispatch.ErrStopped) {
		p.log.Warn("Event dropped", "chat_id", ev.ChatID, "kind", ev.Kind, "error", err)
	}
}

// ToEvent converts a Telegram update into a handler event. Updates without a
// sender or with unsupported content are skipped.
func ToEvent(u Update) (handlers.Event, bool) {
	if cb := u.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
			return handlers.Event{}, false
		}
		return handlers.Event{
			Kind:         handlers.KindCallback,
			ChatID:       cb.Message.Chat.ID,
			UserID:       cb.From.ID,
			MessageID:    cb.Message.MessageID,
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}, true
	}

	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return handlers.Event{}, false
	}
	ev := handlers.Event{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		MessageID: msg.MessageID,
	}

	switch {
	case msg.Text != "":
		if name, ok := handlers.ParseCommand(msg.Text); ok {
			ev.Kind = handlers.KindCommand
			ev.Command = name
		} else {
			ev.Kind = handlers.KindText
			ev.Text = msg.Text
		}
	case msg.Document != nil:
		ev.Kind = handlers.KindDocument
		ev.FileID = msg.Document.FileID
		ev.FileName = msg.Document.FileName
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		ev.Kind = handlers.KindPhoto
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
	default:
		return handlers.Event{}, false
	}
	return ev, true
}
