package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marmos91/mokuro-online/internal/logger"
)

// ResultCache is the OCR-result-shaped view over Cache: it speaks
// json.RawMessage in and out, hiding the envelope codec from callers
// (internal/upload, internal/api).
type ResultCache struct {
	*Cache
}

// NewResultCache wraps backend with cfg and returns the OCR-facing cache.
func NewResultCache(backend Backend, cfg Config) *ResultCache {
	return &ResultCache{Cache: New(backend, cfg)}
}

// GetResult fetches and decodes the OCR result stored for hash. A decode
// failure is logged and treated as a cache miss rather than propagated.
func (rc *ResultCache) GetResult(ctx context.Context, hash string) (json.RawMessage, bool, error) {
	raw, ok, err := rc.Cache.Get(ctx, hash)
	if err != nil || !ok {
		return nil, false, err
	}
	result, err := DecodeResult(raw)
	if err != nil {
		logger.Error("cache: corrupt entry treated as miss", logger.Hash(hash), logger.KeyError, err.Error())
		return nil, false, nil
	}
	return result, true, nil
}

// GetResults fetches and decodes every hash in hashes, omitting misses
// and corrupt entries from the returned map.
func (rc *ResultCache) GetResults(ctx context.Context, hashes []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(hashes))
	for _, h := range hashes {
		result, ok, err := rc.GetResult(ctx, h)
		if err != nil {
			return nil, err
		}
		if ok {
			out[h] = result
		}
	}
	return out, nil
}

// SetResult encodes result into the envelope and stores it for hash.
// ttl<=0 uses the cache's configured default.
func (rc *ResultCache) SetResult(ctx context.Context, hash string, result json.RawMessage, ttl time.Duration) error {
	raw, err := EncodeResult(result)
	if err != nil {
		return err
	}
	return rc.Cache.Set(ctx, hash, raw, ttl)
}
