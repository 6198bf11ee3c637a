// Package badgerkv stores tree nodes in a badger database.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bluesky-social/arbor/kv"
	"github.com/dgraph-io/badger/v4"
)

// Store implements kv.Store on badger's own serializable transactions.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

var _ kv.Store = (*Store)(nil)

// Open opens or creates a database in dir.
func Open(dir string, log *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir), log)
}

// OpenInMemory opens a database that never touches disk.
func OpenInMemory(log *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), log)
}

func open(opts badger.Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", "badger")

	db, err := badger.Open(opts.WithLogger(&badgerLogger{log: log}))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.log.Error("badger close", "err", err)
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(kv.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&txnWrapper{txn: txn})
	})
}

func (s *Store) Update(ctx context.Context, fn func(kv.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&txnWrapper{txn: txn})
	})
}

type txnWrapper struct {
	txn *badger.Txn
}

func (t *txnWrapper) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txnWrapper) Scan(prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)

	var pairs []kv.Pair
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return fmt.Errorf("badger iter: %w", err)
		}
		pairs = append(pairs, kv.Pair{Key: item.KeyCopy(nil), Val: val})
	}
	// badger allows one open iterator per read-write txn
	it.Close()

	return kv.Replay(pairs, fn)
}

func (t *txnWrapper) Set(key, val []byte) error {
	return t.txn.Set(key, val)
}

func (t *txnWrapper) Delete(key []byte) error {
	return t.txn.Delete(key)
}

// badgerLogger routes badger's printf style logging into slog. Info and
// debug chatter from compaction is demoted to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
