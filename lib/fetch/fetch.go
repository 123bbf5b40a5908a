// Package fetch downloads remote module sources for inline mode.
package fetch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"micromachine.dev/esbuild-jspm/lib/cache"
	"micromachine.dev/esbuild-jspm/lib/generator/registry"
)

// Fetcher returns the bytes behind a CDN URL. Responses are memoised for the
// life of the process and written to the persistent cache.
type Fetcher struct {
	client *registry.Client
	store  cache.Cache
	ttl    time.Duration
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	memo  map[string][]byte
}

func New(client *registry.Client, store cache.Cache, ttl time.Duration, logger *slog.Logger) *Fetcher {
	if store == nil {
		store = cache.NewNullCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		store:  store,
		ttl:    ttl,
		logger: logger,
		memo:   map[string][]byte{},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.RLock()
	data, ok := f.memo[url]
	f.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := f.group.Do(url, func() (any, error) {
		return f.load(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	data = v.([]byte)
	f.mu.Lock()
	f.memo[url] = data
	f.mu.Unlock()
	return data, nil
}

func (f *Fetcher) load(ctx context.Context, url string) ([]byte, error) {
	key := "url:" + url

	if data, ok, err := f.store.Get(ctx, key); err == nil && ok {
		f.logger.Debug("module cache hit", slog.String("url", url))
		return data, nil
	}

	data, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	ttl := f.ttl
	if isPinned(url) {
		ttl = 0
	}
	if err := f.store.Set(ctx, key, data, ttl); err != nil {
		f.logger.Warn("could not cache module", slog.String("url", url), slog.Any("error", err))
	}
	return data, nil
}

// isPinned reports whether url names an exact package version, which CDNs
// serve immutably.
func isPinned(url string) bool {
	i := strings.LastIndex(url, "@")
	if i < 0 || i+1 >= len(url) {
		return false
	}
	c := url[i+1]
	return c >= '0' && c <= '9'
}
