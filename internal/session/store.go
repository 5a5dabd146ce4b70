package session

import (
	"context"
	"fmt"
	"strconv"
)

type State uint8

const (
	None State = iota
	WaitingForFile
	ProcessingFile
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case WaitingForFile:
		return "waiting_for_file"
	case ProcessingFile:
		return "processing_file"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ID identifies one conversation: a user inside a chat.
type ID struct {
	ChatID int64
	UserID int64
}

func (id ID) String() string {
	return strconv.FormatInt(id.ChatID, 10) + ":" + strconv.FormatInt(id.UserID, 10)
}

// Store keeps at most one state per ID. A missing entry reads as None.
type Store interface {
	Get(ctx context.Context, id ID) (State, error)
	Set(ctx context.Context, id ID, state State) error
	Delete(ctx context.Context, id ID) error
}
