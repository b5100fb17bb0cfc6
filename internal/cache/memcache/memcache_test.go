package memcache_test

import (
	"testing"

	"github.com/marmos91/mokuro-online/internal/cache"
	"github.com/marmos91/mokuro-online/internal/cache/cachetest"
	"github.com/marmos91/mokuro-online/internal/cache/memcache"
)

func newBackend(t *testing.T) cache.Backend {
	t.Helper()
	return memcache.New()
}

func TestMemcacheBackendConformance(t *testing.T) {
	cachetest.RunBackendConformance(t, newBackend)
}
