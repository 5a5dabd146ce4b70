package handlers

import (
	"strings"

	"github.com/Brownie44l1/xray-bot/internal/session"
)

type Kind string

const (
	KindCommand  Kind = "command"
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindCallback Kind = "callback"
)

const (
	CommandStart    = "start"
	CommandUpload   = "upload"
	CommandStatus   = "status"
	CommandHelp     = "help"
	CommandFeedback = "feedback"
)

// Event is one inbound update, already stripped of transport details.
type Event struct {
	Kind         Kind   `validate:"required,oneof=command text photo document callback"`
	ChatID       int64  `validate:"required"`
	UserID       int64  `validate:"required"`
	MessageID    int64  `validate:"gte=0"`
	Command      string `validate:"required_if=Kind command"`
	Text         string
	FileID       string `validate:"required_if=Kind photo,required_if=Kind document"`
	FileName     string
	CallbackID   string
	CallbackData string `validate:"required_if=Kind callback"`
}

func (e Event) SessionID() session.ID {
	return session.ID{ChatID: e.ChatID, UserID: e.UserID}
}

// ReadOnly reports whether handling e can never start or reset an analysis.
// Such events may run alongside an analysis of the same session.
func (e Event) ReadOnly() bool {
	switch e.Kind {
	case KindCallback:
		return true
	case KindCommand:
		return e.Command != CommandUpload
	default:
		return false
	}
}

// ParseCommand extracts the command name from "/name@bot args".
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd), cmd != ""
}
