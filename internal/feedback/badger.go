package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "feedback:"

// BadgerLog stores entries under feedback:<unix-nano>:<user>, so iteration
// order is chronological.
type BadgerLog struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadgerLog(db *badger.DB) *BadgerLog {
	return &BadgerLog{db: db, now: time.Now}
}

func (b *BadgerLog) Append(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = b.now()
	}
	k := fmt.Sprintf("%s%020d:%d", keyPrefix, entry.At.UTC().UnixNano(), entry.UserID)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), []byte(entry.Line()))
	})
}

func (b *BadgerLog) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	prefix := []byte(keyPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := string(item.KeyCopy(nil))
			err := item.Value(func(v []byte) error {
				entry, err := parseEntry(k, string(v))
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during feedback scan: %w", err)
	}
	return entries, nil
}

func parseEntry(key, line string) (Entry, error) {
	rest := strings.TrimPrefix(key, keyPrefix)
	nanos, _, ok := strings.Cut(rest, ":")
	if !ok {
		return Entry{}, fmt.Errorf("malformed feedback key %q", key)
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed feedback key %q: %w", key, err)
	}

	var entry Entry
	if _, err := fmt.Sscanf(line, "%d: %d stars", &entry.UserID, &entry.Rating); err != nil {
		return Entry{}, fmt.Errorf("malformed feedback line %q: %w", line, err)
	}
	entry.At = time.Unix(0, ts).UTC()
	return entry, nil
}
