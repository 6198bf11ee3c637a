package kv

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrClosed = errors.New("kv: store closed")

// Memory is an in-memory Store. Writers are serialized; an Update buffers
// its writes in an overlay that is applied only when fn returns nil.
type Memory struct {
	lk     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lk.RLock()
	defer m.lk.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTxn{base: m.data})
}

func (m *Memory) Update(ctx context.Context, fn func(Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.closed {
		return ErrClosed
	}

	txn := &memTxn{base: m.data, pending: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	for k, v := range txn.pending {
		if v == nil {
			delete(m.data, k)
		} else {
			m.data[k] = v
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// memTxn reads through pending to base. A nil value in pending is a
// tombstone.
type memTxn struct {
	base    map[string][]byte
	pending map[string][]byte
}

func (t *memTxn) lookup(k string) ([]byte, bool) {
	if v, ok := t.pending[k]; ok {
		return v, v != nil
	}
	v, ok := t.base[k]
	return v, ok
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	v, ok := t.lookup(string(key))
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memTxn) Scan(prefix []byte, fn func(key, val []byte) error) error {
	p := string(prefix)
	seen := make(map[string]struct{})
	var keys []string
	for k := range t.base {
		if strings.HasPrefix(k, p) {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range t.pending {
		if _, ok := seen[k]; !ok && strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		v, ok := t.lookup(k)
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Key: []byte(k), Val: bytes.Clone(v)})
	}
	return Replay(pairs, fn)
}

func (t *memTxn) Set(key, val []byte) error {
	if t.pending == nil {
		return errors.New("kv: write in read-only transaction")
	}
	if val == nil {
		val = []byte{}
	}
	t.pending[string(key)] = bytes.Clone(val)
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	if t.pending == nil {
		return errors.New("kv: write in read-only transaction")
	}
	t.pending[string(key)] = nil
	return nil
}
