package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process LRU cache bounded by entry count. The LRU sweeps entries
// older than its ttl in the background; a shorter ttl passed to Set is checked on read.
type Memory struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemory returns a cache holding at most maxEntries (unbounded when <= 0) for at most
// ttl (no ceiling when <= 0).
func NewMemory(maxEntries int, ttl time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, ttl),
		now: now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(e.expires) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	m.lru.Add(key, memoryEntry{value: append([]byte(nil), value...), expires: m.now().Add(ttl)})
	return nil
}

// Len returns the number of stored entries, including ones past their Set ttl that have
// not been read since.
func (m *Memory) Len() int {
	return m.lru.Len()
}

var _ Cache = (*Memory)(nil)
