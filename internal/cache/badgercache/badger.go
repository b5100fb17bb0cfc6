// Package badgercache implements cache.Backend on top of an embedded
// dgraph-io/badger/v4 key-value store (transaction helpers, prefix
// iteration, value-codec-per-key pattern).
package badgercache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/mokuro-online/internal/cache"
)

// Config selects the badger database directory.
type Config struct {
	// Dir is the directory badger stores its LSM tree and value log in
	// (OCR_CACHE_DIR).
	Dir string
	// InMemory runs badger without touching disk; useful for tests.
	InMemory bool
}

// Backend is a cache.Backend backed by badger.
type Backend struct {
	db *badgerdb.DB
}

// Open opens (creating if necessary) the badger database described by cfg.
func Open(cfg Config) (*Backend, error) {
	opts := badgerdb.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgercache: open: %w", err)
	}
	return &Backend{db: db}, nil
}

var _ cache.Backend = (*Backend)(nil)

// record is the value stored under each key: the raw cache value plus
// the `updated` timestamp needed for ascending-updated eviction. badger's
// own TTL mechanism handles `exp` directly via SetEntry, so it is not
// duplicated here.
type record struct {
	Updated int64
	Val     []byte
}

func encodeRecord(updated int64, val []byte) []byte {
	buf := make([]byte, 8+len(val))
	binary.BigEndian.PutUint64(buf[:8], uint64(updated))
	copy(buf[8:], val)
	return buf
}

func decodeRecord(b []byte) record {
	if len(b) < 8 {
		return record{}
	}
	return record{Updated: int64(binary.BigEndian.Uint64(b[:8])), Val: b[8:]}
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec := decodeRecord(val)
			out = append([]byte(nil), rec.Val...)
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgercache: get: %w", err)
	}
	return out, found, nil
}

func (b *Backend) Set(ctx context.Context, key string, val []byte, exp time.Time) error {
	entry := badgerdb.NewEntry([]byte(key), encodeRecord(time.Now().UnixNano(), val))
	if !exp.IsZero() {
		ttl := time.Until(exp)
		if ttl <= 0 {
			ttl = time.Nanosecond
		}
		entry = entry.WithTTL(ttl)
	}
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badgercache: set: %w", err)
	}
	return nil
}

func (b *Backend) Add(ctx context.Context, key string, val []byte, exp time.Time) (bool, error) {
	exists := false
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			exists = true
			return nil
		}
		if err != badgerdb.ErrKeyNotFound {
			return err
		}
		entry := badgerdb.NewEntry([]byte(key), encodeRecord(time.Now().UnixNano(), val))
		if !exp.IsZero() {
			ttl := time.Until(exp)
			if ttl <= 0 {
				ttl = time.Nanosecond
			}
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, fmt.Errorf("badgercache: add: %w", err)
	}
	return !exists, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	_, found, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	err = b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("badgercache: delete: %w", err)
	}
	return true, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badgercache: clear: %w", err)
	}
	return nil
}

// forEach applies fn to every live key/record, stopping at the first
// error. It is the primitive the count/size/eviction helpers below build
// on, mirroring the prefix-iteration pattern from pkg/metadata/store/badger.
func (b *Backend) forEach(fn func(key string, rec record) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var rec record
			err := item.Value(func(val []byte) error {
				rec = decodeRecord(val)
				return nil
			})
			if err != nil {
				return err
			}
			if err := fn(key, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.forEach(func(string, record) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgercache: count: %w", err)
	}
	return count, nil
}

func (b *Backend) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	err := b.forEach(func(_ string, rec record) error {
		total += int64(len(rec.Val))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgercache: total bytes: %w", err)
	}
	return total, nil
}

// DeleteExpired is a no-op beyond what badger's own TTL/value-log GC
// already does: expired keys are invisible to reads and reclaimed by
// badger's background compaction. The invariant that expired rows are
// treated as absent on read already holds via the TTL set in Set/Add.
func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (b *Backend) DeleteOldest(ctx context.Context, n int) ([]string, int64, error) {
	if n <= 0 {
		return nil, 0, nil
	}
	type kv struct {
		key string
		rec record
	}
	var all []kv
	err := b.forEach(func(key string, rec record) error {
		all = append(all, kv{key: key, rec: rec})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("badgercache: delete oldest scan: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].rec.Updated < all[j].rec.Updated })
	if len(all) > n {
		all = all[:n]
	}

	keys := make([]string, 0, len(all))
	var freed int64
	err = b.db.Update(func(txn *badgerdb.Txn) error {
		for _, item := range all {
			if err := txn.Delete([]byte(item.key)); err != nil {
				return err
			}
			keys = append(keys, item.key)
			freed += int64(len(item.rec.Val))
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("badgercache: delete oldest: %w", err)
	}
	return keys, freed, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
