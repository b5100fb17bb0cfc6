// Package memcache implements cache.Backend as a mutex-guarded in-memory
// map (buffer map + RWMutex + sort-by-time eviction).
//
// Unlike the reference implementation this cache models (documented as
// unsafe for concurrent use), memcache is safe by construction: every
// access goes through a single mutex, favoring correctness over matching
// that caveat.
package memcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/mokuro-online/internal/cache"
)

type row struct {
	val     []byte
	exp     time.Time // zero means never
	updated time.Time
}

func (r row) expired(now time.Time) bool {
	return !r.exp.IsZero() && !r.exp.After(now)
}

// Backend is a cache.Backend backed by a plain in-memory map.
type Backend struct {
	mu     sync.RWMutex
	rows   map[string]row
	closed bool
}

// New constructs an empty in-memory backend.
func New() *Backend {
	return &Backend{rows: make(map[string]row)}
}

var _ cache.Backend = (*Backend)(nil)

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, exists := b.rows[key]
	if !exists || r.expired(time.Now()) {
		return nil, false, nil
	}
	out := make([]byte, len(r.val))
	copy(out, r.val)
	return out, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, val []byte, exp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(val))
	copy(stored, val)
	b.rows[key] = row{val: stored, exp: exp, updated: time.Now()}
	return nil
}

func (b *Backend) Add(ctx context.Context, key string, val []byte, exp time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, exists := b.rows[key]; exists && !r.expired(time.Now()) {
		return false, nil
	}
	stored := make([]byte, len(val))
	copy(stored, val)
	b.rows[key] = row{val: stored, exp: exp, updated: time.Now()}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exists := b.rows[key]
	if exists {
		delete(b.rows, key)
	}
	return exists, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = make(map[string]row)
	return nil
}

func (b *Backend) Count(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := time.Now()
	var count int64
	for _, r := range b.rows {
		if !r.expired(now) {
			count++
		}
	}
	return count, nil
}

func (b *Backend) TotalBytes(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, r := range b.rows {
		total += int64(len(r.val))
	}
	return total, nil
}

func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var removed int64
	for k, r := range b.rows {
		if r.expired(now) {
			delete(b.rows, k)
			removed++
		}
	}
	return removed, nil
}

func (b *Backend) DeleteOldest(ctx context.Context, n int) ([]string, int64, error) {
	if n <= 0 {
		return nil, 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	type kv struct {
		key string
		row row
	}
	candidates := make([]kv, 0, len(b.rows))
	for k, r := range b.rows {
		candidates = append(candidates, kv{key: k, row: r})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].row.updated.Before(candidates[j].row.updated)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	keys := make([]string, 0, len(candidates))
	var freed int64
	for _, c := range candidates {
		delete(b.rows, c.key)
		keys = append(keys, c.key)
		freed += int64(len(c.row.val))
	}
	return keys, freed, nil
}

// Close clears the map; memcache has no external resources to release.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.rows = nil
	return nil
}
