// Package registry talks to an npm-compatible registry. It fetches package
// metadata (packuments), picks versions for a constraint, and fetches JSON
// documents from CDNs on behalf of the providers.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"micromachine.dev/esbuild-jspm/lib/cache"
)

const DefaultURL = "https://registry.npmjs.org"

const httpTimeout = 15 * time.Second

type Packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]VersionManifest `json:"versions"`
}

type VersionManifest struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
}

type Client struct {
	baseURL  string
	http     *http.Client
	cache    cache.Cache
	cacheTTL time.Duration
	attempts int
	delay    time.Duration
	logger   *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]*Packument
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCache persists packuments across processes for ttl.
func WithCache(store cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultURL,
		http:     &http.Client{Timeout: httpTimeout},
		cache:    cache.NewNullCache(),
		attempts: 3,
		delay:    500 * time.Millisecond,
		logger:   slog.Default(),
		memo:     map[string]*Packument{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Packument returns the registry metadata for name. Concurrent calls for the
// same package share one request.
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	c.mu.Lock()
	if p, ok := c.memo[name]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.loadPackument(ctx, name)
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Packument)
	c.mu.Lock()
	c.memo[name] = p
	c.mu.Unlock()
	return p, nil
}

func (c *Client) loadPackument(ctx context.Context, name string) (*Packument, error) {
	key := "npm:" + name

	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var p Packument
		if json.Unmarshal(data, &p) == nil {
			c.logger.Debug("packument cache hit", slog.String("package", name))
			return &p, nil
		}
	}

	var p Packument
	headers := map[string]string{"Accept": "application/vnd.npm.install-v1+json"}
	if err := c.getJSON(ctx, c.baseURL+"/"+escapeName(name), headers, &p); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: npm package %s", ErrNotFound, name)
		}
		return nil, err
	}

	if data, err := json.Marshal(&p); err == nil {
		_ = c.cache.Set(ctx, key, data, c.cacheTTL)
	}
	return &p, nil
}

// GetJSON fetches url and decodes the JSON body into v, with retries.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.getJSON(ctx, url, nil, v)
}

// Get fetches url and returns the raw body, with retries.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry(ctx, c.attempts, c.delay, func() error {
		body, err := c.doRequest(ctx, url, nil)
		if err != nil {
			return err
		}
		defer body.Close()
		if data, err = io.ReadAll(body); err != nil {
			return &RetryableError{Err: fmt.Errorf("%w: reading %s: %v", ErrNetwork, url, err)}
		}
		return nil
	})
	return data, err
}

func (c *Client) getJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	return retry(ctx, c.attempts, c.delay, func() error {
		body, err := c.doRequest(ctx, url, headers)
		if err != nil {
			return err
		}
		defer body.Close()
		if err := json.NewDecoder(body).Decode(v); err != nil {
			return fmt.Errorf("decoding %s: %w", url, err)
		}
		return nil
	})
}

func (c *Client) doRequest(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("GET", slog.String("url", url))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}

	if err := checkStatus(resp.StatusCode, url); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return "not found: " + e.url }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

func checkStatus(code int, url string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return &notFoundError{url: url}
	case code >= 500 || code == http.StatusTooManyRequests:
		return &RetryableError{Err: fmt.Errorf("%w: %s returned status %d", ErrNetwork, url, code)}
	default:
		return fmt.Errorf("%w: %s returned status %d", ErrNetwork, url, code)
	}
}

// escapeName encodes the scope separator the way the registry expects.
func escapeName(name string) string {
	return strings.Replace(name, "/", "%2F", 1)
}
