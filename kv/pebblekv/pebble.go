// Package pebblekv stores tree nodes in a pebble database.
package pebblekv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluesky-social/arbor/kv"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Store implements kv.Store. Updates go through an indexed batch so they can
// read their own writes, and are serialized by writeLk since pebble does not
// detect write conflicts. Views read from a snapshot.
type Store struct {
	db      *pebble.DB
	writeLk sync.Mutex

	log *slog.Logger
}

var _ kv.Store = (*Store)(nil)

func Open(path string, log *slog.Logger) (*Store, error) {
	return open(path, &pebble.Options{}, log)
}

// OpenMem opens a store backed by an in-memory filesystem.
func OpenMem(log *slog.Logger) (*Store, error) {
	return open("arbor", &pebble.Options{FS: vfs.NewMem()}, log)
}

func open(path string, opts *pebble.Options, log *slog.Logger) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: could not open db, %w", path, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:  db,
		log: log.With("store", "pebble"),
	}, nil
}

func (s *Store) Close() error {
	err := s.db.Flush()
	if err != nil {
		s.log.Error("pebble flush", "err", err)
	}
	err = s.db.Close()
	if err != nil {
		s.log.Error("pebble close", "err", err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(kv.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&reader{src: snap})
}

func (s *Store) Update(ctx context.Context, fn func(kv.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeLk.Lock()
	defer s.writeLk.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&writer{reader: reader{src: batch}, batch: batch}); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

// reader serves both *pebble.Snapshot and an indexed *pebble.Batch.
type reader struct {
	src pebble.Reader
}

func (r *reader) Get(key []byte) ([]byte, error) {
	val, closer, err := r.src.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (r *reader) Scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := r.src.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: kv.PrefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter start, %w", err)
	}

	var pairs []kv.Pair
	for iter.First(); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return fmt.Errorf("pebble iter, %w", err)
		}
		pairs = append(pairs, kv.Pair{
			Key: append([]byte(nil), iter.Key()...),
			Val: append([]byte{}, val...),
		})
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebble iter close, %w", err)
	}
	return kv.Replay(pairs, fn)
}

type writer struct {
	reader
	batch *pebble.Batch
}

func (w *writer) Set(key, val []byte) error {
	return w.batch.Set(key, val, nil)
}

func (w *writer) Delete(key []byte) error {
	return w.batch.Delete(key, nil)
}
