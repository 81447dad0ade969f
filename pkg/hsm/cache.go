package hsm

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
)

// CachingBridge remembers resolved placements for at most maxAge.
// Entries older than that are considered stale and are resolved again.
// Files already on disk are never cached.
type CachingBridge struct {
	Bridge

	cache *expirable.LRU[string, FileMetadata]

	hits   prometheus.Counter
	misses prometheus.Counter
}

func NewCachingBridge(bridge Bridge, size int, maxAge time.Duration, reg prometheus.Registerer) *CachingBridge {
	if size <= 0 {
		size = 1
	}

	b := &CachingBridge{
		Bridge: bridge,
		cache:  expirable.NewLRU[string, FileMetadata](size, nil, maxAge),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "hsm",
			Name:      "metadata_cache_hits_total",
			Help:      "Number of file placements served from the metadata cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "hsm",
			Name:      "metadata_cache_misses_total",
			Help:      "Number of file placements resolved through the HSM.",
		}),
	}

	if reg != nil {
		reg.MustRegister(b.hits, b.misses)
	}

	return b
}

func (b *CachingBridge) Resolve(ctx context.Context, file string) (FileMetadata, error) {
	if meta, ok := b.cache.Get(file); ok {
		b.hits.Inc()
		return meta, nil
	}
	b.misses.Inc()

	meta, err := b.Bridge.Resolve(ctx, file)
	if err != nil {
		return FileMetadata{}, err
	}

	if !meta.OnDisk {
		b.cache.Add(file, meta)
	}
	return meta, nil
}

// Invalidate drops a cached placement, e.g. after the file has been staged.
func (b *CachingBridge) Invalidate(file string) {
	b.cache.Remove(file)
}

func (b *CachingBridge) Len() int {
	return b.cache.Len()
}
