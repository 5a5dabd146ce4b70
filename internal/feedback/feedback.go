//go:generate go run go.uber.org/mock/mockgen -source=feedback.go -destination=../../mocks/mock_feedback_log.go -package=mocks
package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var ErrInvalidRating = errors.New("rating must be between 1 and 5")

const (
	MinRating = 1
	MaxRating = 5
)

type Entry struct {
	UserID int64
	Rating int
	At     time.Time
}

// Line renders the entry in the append-only log format.
func (e Entry) Line() string {
	return fmt.Sprintf("%d: %d stars", e.UserID, e.Rating)
}

func (e Entry) Validate() error {
	if e.Rating < MinRating || e.Rating > MaxRating {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, e.Rating)
	}
	return nil
}

type Log interface {
	Append(ctx context.Context, entry Entry) error
}

// FileLog appends one line per rating to a text file.
type FileLog struct {
	mu   sync.Mutex
	path string
}

func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

func (f *FileLog) Append(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open feedback log: %w", err)
	}
	if _, err := file.WriteString(entry.Line() + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write feedback: %w", err)
	}
	return file.Close()
}
