package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micromachine.dev/esbuild-jspm/lib/cache"
)

const reactPackument = `{
	"name": "react",
	"dist-tags": {"latest": "18.2.0", "next": "19.0.0-rc.1"},
	"versions": {
		"16.14.0": {"name": "react", "version": "16.14.0"},
		"17.0.1": {"name": "react", "version": "17.0.1"},
		"17.0.2": {"name": "react", "version": "17.0.2", "dependencies": {"loose-envify": "^1.1.0", "object-assign": "^4.1.1"}},
		"18.2.0": {"name": "react", "version": "18.2.0", "dependencies": {"loose-envify": "^1.1.0"}},
		"19.0.0-rc.1": {"name": "react", "version": "19.0.0-rc.1"}
	}
}`

func newRegistry(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.EscapedPath() {
		case "/react":
			w.Write([]byte(reactPackument))
		case "/@scope%2Fpkg":
			w.Write([]byte(`{"name":"@scope/pkg","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{}}}`))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSelectVersion(t *testing.T) {
	c := NewClient(WithBaseURL(newRegistry(t, nil).URL))
	p, err := c.Packument(context.Background(), "react")
	require.NoError(t, err)

	tests := []struct {
		name       string
		constraint string
		want       string
	}{
		{"empty selects latest", "", "18.2.0"},
		{"star selects latest", "*", "18.2.0"},
		{"dist tag", "next", "19.0.0-rc.1"},
		{"exact version", "17.0.2", "17.0.2"},
		{"caret range", "^17.0.0", "17.0.2"},
		{"latest preferred when it satisfies", ">=16", "18.2.0"},
		{"x range", "16.x", "16.14.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectVersion(p, tt.constraint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectVersionErrors(t *testing.T) {
	c := NewClient(WithBaseURL(newRegistry(t, nil).URL))
	p, err := c.Packument(context.Background(), "react")
	require.NoError(t, err)

	_, err = SelectVersion(p, "^99.0.0")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = SelectVersion(p, "not a range !!")
	assert.Error(t, err)
}

func TestPackumentNotFound(t *testing.T) {
	c := NewClient(WithBaseURL(newRegistry(t, nil).URL))
	_, err := c.Packument(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPackumentScopedName(t *testing.T) {
	c := NewClient(WithBaseURL(newRegistry(t, nil).URL))
	v, err := c.ResolveVersion(context.Background(), "@scope/pkg", "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestPackumentRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(WithBaseURL(newRegistry(t, &hits).URL), WithRetry(3, time.Millisecond))

	_, err := c.Packument(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, int32(3), hits.Load())
}

func TestPackumentDeduplicatesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(WithBaseURL(newRegistry(t, &hits).URL))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Packument(context.Background(), "react")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, hits.Load(), int32(10))
	_, err := c.Packument(context.Background(), "react")
	require.NoError(t, err)
	before := hits.Load()
	_, _ = c.Packument(context.Background(), "react")
	assert.Equal(t, before, hits.Load(), "memoized packument must not refetch")
}

func TestPackumentPersistentCache(t *testing.T) {
	var hits atomic.Int32
	srv := newRegistry(t, &hits)
	store, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	first := NewClient(WithBaseURL(srv.URL), WithCache(store, time.Hour))
	_, err = first.Packument(context.Background(), "react")
	require.NoError(t, err)

	second := NewClient(WithBaseURL(srv.URL), WithCache(store, time.Hour))
	p, err := second.Packument(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, "18.2.0", p.DistTags["latest"])
	assert.Equal(t, int32(1), hits.Load())
}

func TestManifest(t *testing.T) {
	c := NewClient(WithBaseURL(newRegistry(t, nil).URL))
	m, err := c.Manifest(context.Background(), "react", "17.0.2")
	require.NoError(t, err)
	assert.Contains(t, m.Dependencies, "object-assign")

	_, err = c.Manifest(context.Background(), "react", "0.0.1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
