package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vovakirdan/pulse-server/internal/core"
)

const keyPrefix = "pulselist:"

// BadgerStore persists channel tables in an embedded Badger database.
// Each room is stored under "pulselist:<room>" as a msgpack-encoded map.
type BadgerStore struct {
	db *badger.DB
}

// New opens (or creates) the Badger database in dir.
func New(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Load returns the stored table for room, or an empty table if none exists.
func (s *BadgerStore) Load(ctx context.Context, room string) (core.ChannelTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw map[int][]string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(room))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &raw)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ChannelTable{}, nil
		}
		return nil, fmt.Errorf("read channel table: %w", err)
	}

	table := make(core.ChannelTable, len(raw))
	for ch, ids := range raw {
		if ids == nil {
			ids = []string{}
		}
		table[ch] = ids
	}
	return table, nil
}

// Save overwrites the stored table for room in a single transaction.
func (s *BadgerStore) Save(ctx context.Context, room string, table core.ChannelTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(map[int][]string(table))
	if err != nil {
		return fmt.Errorf("encode channel table: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(room), data)
	})
	if err != nil {
		return fmt.Errorf("write channel table: %w", err)
	}
	return nil
}

func key(room string) []byte {
	return []byte(keyPrefix + room)
}
