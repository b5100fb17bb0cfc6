// Package cache implements the content-addressed OCR result cache: a
// durable hash -> result store with size and count based eviction.
//
// The package never interprets the stored result; it moves opaque bytes
// in and out of a pluggable Backend, enforcing key canonicalization, the
// eviction sweep, and an ignore_errors degradation policy.
package cache

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/marmos91/mokuro-online/internal/logger"
	"github.com/marmos91/mokuro-online/internal/metrics"
	"github.com/marmos91/mokuro-online/internal/telemetry"
)

// ErrConflict is returned by Add when the key already exists.
var ErrConflict = errors.New("cache: key already exists")

// ErrClosed is returned once the cache has been closed.
var ErrClosed = errors.New("cache: closed")

var hashPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// Backend is the storage contract a concrete cache engine implements.
// Every method receives already-canonicalized (lowercase) keys; Backend
// implementations do not need to re-validate the hash shape.
type Backend interface {
	// Has reports whether key exists and is not expired.
	Has(ctx context.Context, key string) (bool, error)
	// Get returns the value for key, or ok=false on miss/expired.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set upserts key with val. exp is the absolute expiry time; the zero
	// time means "never expires".
	Set(ctx context.Context, key string, val []byte, exp time.Time) error
	// Add inserts key only if absent. Returns false (no error) on conflict.
	Add(ctx context.Context, key string, val []byte, exp time.Time) (bool, error)
	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
	// Clear truncates the entire store.
	Clear(ctx context.Context) error

	// Count returns the number of non-expired entries.
	Count(ctx context.Context) (int64, error)
	// TotalBytes returns the sum of stored value lengths.
	TotalBytes(ctx context.Context) (int64, error)
	// DeleteExpired removes all rows whose exp is set and <= now, returning
	// the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteOldest removes up to n rows in ascending `updated` order,
	// returning the deleted keys and the total bytes freed.
	DeleteOldest(ctx context.Context, n int) (keys []string, freedBytes int64, err error)

	Close() error
}

// Config controls the Cache wrapper's behavior; it mirrors the
// OCR_CACHE_* environment keys.
type Config struct {
	// Threshold is the maximum entry count. 0 disables the check.
	Threshold int64
	// MaxSize is the maximum total bytes on disk. 0 disables the check.
	MaxSize int64
	// DefaultTTL applied when callers pass ttl<=0 to Set/SetMany/Add.
	// 0 means "never expire".
	DefaultTTL time.Duration
	// IgnoreErrors degrades backend errors to cache-miss (reads) or
	// "not written" (writes) instead of propagating them.
	IgnoreErrors bool
}

// Cache wraps a Backend with key canonicalization, eviction, and error
// degradation. It is safe for concurrent use by multiple goroutines; the
// Backend itself is responsible for serializing its own storage engine.
type Cache struct {
	backend Backend
	cfg     Config
	metrics *metrics.Metrics
}

// New constructs a Cache around backend using cfg.
func New(backend Backend, cfg Config) *Cache {
	return &Cache{backend: backend, cfg: cfg}
}

// SetMetrics attaches m so subsequent lookups and sweeps record to it. A
// nil m is safe; metrics recording is a no-op until this is called.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// canonicalize lowercases and validates a hash key.
func canonicalize(key string) (string, error) {
	k := strings.ToLower(key)
	if !hashPattern.MatchString(k) {
		return "", errors.New("cache: key is not a 32-hex-character hash")
	}
	return k, nil
}

// Has reports whether key exists and is unexpired.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	k, err := canonicalize(key)
	if err != nil {
		return false, err
	}
	ctx, span := telemetry.StartCacheSpan(ctx, "has", telemetry.PageHash(k))
	defer span.End()

	ok, err := c.backend.Has(ctx, k)
	if err != nil {
		return c.degradeRead(err, false)
	}
	c.metrics.RecordCacheLookup(ok)
	span.SetAttributes(telemetry.CacheHit(ok))
	return ok, nil
}

// HasMany returns the subset of ks present and unexpired, preserving
// input order.
func (c *Cache) HasMany(ctx context.Context, ks []string) ([]string, error) {
	present := make([]string, 0, len(ks))
	for _, key := range ks {
		ok, err := c.Has(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, strings.ToLower(key))
		}
	}
	return present, nil
}

// Get returns the value stored for key, or ok=false on miss, expiry, or
// decode failure (corrupt values surface as a cache miss).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := canonicalize(key)
	if err != nil {
		return nil, false, err
	}
	ctx, span := telemetry.StartCacheSpan(ctx, "get", telemetry.PageHash(k))
	defer span.End()

	val, ok, err := c.backend.Get(ctx, k)
	if err != nil {
		v, rerr := c.degradeRead(err, false)
		return nil, v, rerr
	}
	c.metrics.RecordCacheLookup(ok)
	span.SetAttributes(telemetry.CacheHit(ok))
	return val, ok, nil
}

// GetMany returns a map of the keys in ks that were present.
func (c *Cache) GetMany(ctx context.Context, ks []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ks))
	for _, key := range ks {
		val, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[strings.ToLower(key)] = val
		}
	}
	return out, nil
}

// Set upserts key with val, then runs the eviction sweep. ttl<=0 uses
// cfg.DefaultTTL; ttl<=0 and DefaultTTL==0 means never expire.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	k, err := canonicalize(key)
	if err != nil {
		return err
	}
	exp := c.expiryFor(ttl)
	if err := c.backend.Set(ctx, k, val, exp); err != nil {
		return c.degradeWrite(err)
	}
	c.sweep(ctx)
	return nil
}

// SetMany upserts every key in entries, sweeping once at the end. Returns
// the keys successfully written.
func (c *Cache) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) ([]string, error) {
	written := make([]string, 0, len(entries))
	for key, val := range entries {
		k, err := canonicalize(key)
		if err != nil {
			return written, err
		}
		exp := c.expiryFor(ttl)
		if err := c.backend.Set(ctx, k, val, exp); err != nil {
			if werr := c.degradeWrite(err); werr != nil {
				return written, werr
			}
			continue
		}
		written = append(written, k)
	}
	c.sweep(ctx)
	return written, nil
}

// Add inserts key only if absent, then sweeps. ok=false, err=nil signals
// a conflict (key already present).
func (c *Cache) Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	k, err := canonicalize(key)
	if err != nil {
		return false, err
	}
	ok, err := c.backend.Add(ctx, k, val, c.expiryFor(ttl))
	if err != nil {
		werr := c.degradeWrite(err)
		return false, werr
	}
	if ok {
		c.sweep(ctx)
	}
	return ok, nil
}

// Delete removes key, sweeping expired rows afterward. Returns whether
// the key was present.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	k, err := canonicalize(key)
	if err != nil {
		return false, err
	}
	ok, err := c.backend.Delete(ctx, k)
	if err != nil {
		werr := c.degradeWrite(err)
		return false, werr
	}
	c.sweep(ctx)
	return ok, nil
}

// DeleteMany removes every key in ks, returning the ones actually
// present.
func (c *Cache) DeleteMany(ctx context.Context, ks []string) ([]string, error) {
	removed := make([]string, 0, len(ks))
	for _, key := range ks {
		ok, err := c.Delete(ctx, key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, strings.ToLower(key))
		}
	}
	return removed, nil
}

// Clear truncates and compacts the store.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return c.degradeWrite(err)
	}
	return nil
}

// Close releases the underlying backend's resources.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// degradeRead implements the ignore_errors read-path policy: log and
// return the miss value, or propagate the error.
func (c *Cache) degradeRead(err error, missVal bool) (bool, error) {
	logger.Error("cache backend read failed", logger.KeyError, err.Error())
	if c.cfg.IgnoreErrors {
		return missVal, nil
	}
	return missVal, err
}

// degradeWrite implements the ignore_errors write-path policy: log and
// swallow the error ("not written"), or propagate it.
func (c *Cache) degradeWrite(err error) error {
	logger.Error("cache backend write failed", logger.KeyError, err.Error())
	if c.cfg.IgnoreErrors {
		return nil
	}
	return err
}
