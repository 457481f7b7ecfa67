package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	counterKeyPrefix = "counter:"
	// maxConflictRetries bounds how often an increment is replayed after
	// losing a write conflict to a concurrent transaction.
	maxConflictRetries = 100
)

// BadgerCounter keeps counters in an embedded BadgerDB. Each increment is
// a serializable read-modify-write transaction, replayed on conflict.
type BadgerCounter struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadgerCounter opens (creating if needed) a counter database at path.
// An empty path opens an in-memory database.
func OpenBadgerCounter(path string, logger *slog.Logger) (*BadgerCounter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger-counter")

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create counter dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerCounter{db: db, logger: logger}, nil
}

func (c *BadgerCounter) Close() error {
	return c.db.Close()
}

func (c *BadgerCounter) IncrementBy(ctx context.Context, key string, amount int64) (int64, error) {
	k := []byte(counterKeyPrefix + key)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var value int64
		err := c.db.Update(func(txn *badger.Txn) error {
			current, err := readCounter(txn, k)
			if err != nil {
				return err
			}
			value = current + amount
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(value))
			return txn.Set(k, buf)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("increment %s: %w", key, err)
		}
		return value, nil
	}
	return 0, fmt.Errorf("increment %s: %w after %d attempts", key, badger.ErrConflict, maxConflictRetries)
}

func (c *BadgerCounter) Get(_ context.Context, key string) (int64, error) {
	var value int64
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = readCounter(txn, []byte(counterKeyPrefix+key))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func readCounter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var value int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter value of %d bytes", len(val))
		}
		value = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return value, err
}

var _ Counter = (*BadgerCounter)(nil)
