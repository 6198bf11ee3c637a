// Package kv is the ordered key/value store the tree engines persist to.
//
// Every engine operation runs inside exactly one View or Update call, so a
// backend only has to make those two atomic: Update either commits all of
// its writes or none, and View observes a single consistent state.
package kv

import (
	"bytes"
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

// Reader is the read half of a transaction.
type Reader interface {
	// Get returns a copy of the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Scan calls fn for every key starting with prefix, in ascending key
	// order. Keys and values are copies; fn may write to the transaction.
	Scan(prefix []byte, fn func(key, val []byte) error) error
}

// Writer is a read/write transaction. Reads observe the transaction's own
// earlier writes.
type Writer interface {
	Reader
	Set(key, val []byte) error
	Delete(key []byte) error
}

type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
	Close() error
}

// Has reports whether key is present.
func Has(r Reader, key []byte) (bool, error) {
	_, err := r.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists (prefix is all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Pair is a copied key/value entry.
type Pair struct {
	Key []byte
	Val []byte
}

// Replay runs fn over pairs a backend collected before releasing its
// iterator, which is what lets Scan callbacks write.
func Replay(pairs []Pair, fn func(key, val []byte) error) error {
	for _, p := range pairs {
		if err := fn(p.Key, p.Val); err != nil {
			return err
		}
	}
	return nil
}
