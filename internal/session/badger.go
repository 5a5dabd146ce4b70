package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "session:"

// BadgerStore keeps sessions in badger and lets badger expire them.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	ttl time.Duration
}

func NewBadgerStore(db *badger.DB, log *slog.Logger, ttl time.Duration) *BadgerStore {
	return &BadgerStore{
		db:  db,
		log: log,
		ttl: ttl,
	}
}

// OpenBadger opens the session database. An empty path keeps it in memory.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return db, nil
}

func key(id ID) []byte {
	return []byte(keyPrefix + id.String())
}

func (b *BadgerStore) Get(_ context.Context, id ID) (State, error) {
	state := None
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 1 {
				return fmt.Errorf("corrupt session value for %s", id)
			}
			state = State(v[0])
			return nil
		})
	})
	if err != nil {
		return None, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return state, nil
}

func (b *BadgerStore) Set(ctx context.Context, id ID, state State) error {
	if state == None {
		return b.Delete(ctx, id)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(id), []byte{byte(state)})
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerStore) Delete(_ context.Context, id ID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}
