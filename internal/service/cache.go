package service

import (
	"crypto/sha256"
	"encoding/hex"
	"net/textproto"
	"slices"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"docgateway/internal/config"
	"docgateway/internal/headers"
	"docgateway/internal/metrics"
)

// snapshotCache memoizes successful snapshot answers for a short TTL.
type snapshotCache struct {
	store   *cache.Cache
	ignore  map[string]bool
	metrics *metrics.Metrics
}

func newSnapshotCache(cfg config.CacheConfig, m *metrics.Metrics) *snapshotCache {
	return &snapshotCache{
		store: cache.New(
			time.Duration(cfg.TTLSeconds)*time.Second,
			time.Duration(cfg.CleanupSeconds)*time.Second,
		),
		ignore:  ignoreSet(cfg.IgnoreHeaders),
		metrics: m,
	}
}

func ignoreSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[textproto.CanonicalMIMEHeaderKey(n)] = true
	}
	return set
}

// key hashes the body together with every header the orchestrator will
// receive, except the configured ignore list. Names are canonicalized and
// sorted; fields are NUL-separated so adjacent values cannot run together.
func (c *snapshotCache) key(hdr headers.Map, body string) string {
	out := hdr.HTTPHeader()
	names := make([]string, 0, len(out))
	for name := range out {
		canon := textproto.CanonicalMIMEHeaderKey(name)
		if !c.ignore[canon] {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(textproto.CanonicalMIMEHeaderKey(a), textproto.CanonicalMIMEHeaderKey(b))
	})

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(textproto.CanonicalMIMEHeaderKey(name)))
		h.Write([]byte{0})
		h.Write([]byte(out[name][0]))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *snapshotCache) get(key string) ([]byte, bool) {
	v, ok := c.store.Get(key)
	c.record(ok)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *snapshotCache) set(key string, data []byte) {
	c.store.Set(key, data, cache.DefaultExpiration)
}

func (c *snapshotCache) record(hit bool) {
	if c.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.SnapshotCache.WithLabelValues(result).Inc()
}
