package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"micromachine.dev/esbuild-jspm/lib/bundler/plugins"
	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

// DevServer rebuilds on every change and serves the page with the import map
// of the latest cycle. Dependencies always load from the CDN, so inline mode
// is served as proxy mode.
type DevServer struct {
	Bundle *Bundle
	Host   string

	mu        sync.RWMutex
	page      []byte
	importMap *importmap.ImportMap
}

func (d *DevServer) onCycle(ctx context.Context, e *entry) func(plugins.Cycle) error {
	s := d.Bundle.Session
	return func(c plugins.Cycle) error {
		start := time.Now()

		rewrite := map[string]string{}
		if c.Result != nil && c.Result.Metafile != "" {
			outputs, err := entryOutputs(c.Result.Metafile, s.Options.Outdir)
			if err != nil {
				return err
			}
			for entryPoint, out := range outputs {
				if src, ok := e.srcs[entryPoint]; ok {
					rewrite[src] = "/" + out
				}
			}
		}

		var page []byte
		if e.doc != nil {
			var err error
			if page, err = s.RenderHTML(ctx, e.doc, config.ModeProxy, c.ImportMap, rewrite); err != nil {
				return err
			}
		}

		d.mu.Lock()
		d.page = page
		d.importMap = c.ImportMap
		d.mu.Unlock()

		if c.Err != nil {
			s.Logger.Error(fmt.Sprintf("✗ %v", c.Err))
		} else {
			s.Logger.Info("rebuilt", slog.Int("imports", c.ImportMap.Len()), slog.Duration("took", time.Since(start)))
		}
		return nil
	}
}

// Start watches the project and serves it until ctx is cancelled.
func (d *DevServer) Start(ctx context.Context) error {
	s := d.Bundle.Session
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if s.Options.Mode == config.ModeInline {
		utils.LogWithColor(utils.Muted, "Inline mode is not used by the dev server; dependencies load from the CDN")
	}

	e, entries, err := d.Bundle.loadEntry()
	if err != nil {
		return err
	}

	opts := d.Bundle.buildOptions(entries, config.ModeProxy, true, d.onCycle(ctx, e))
	esb, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return fmt.Errorf("could not create build context: %v", ctxErr.Errors)
	}
	defer esb.Dispose()

	if err := esb.Watch(api.WatchOptions{}); err != nil {
		return fmt.Errorf("could not watch: %w", err)
	}

	served, err := esb.Serve(api.ServeOptions{
		Host:     "127.0.0.1",
		Servedir: filepath.Join(s.Root, s.Options.Outdir),
	})
	if err != nil {
		return fmt.Errorf("could not start esbuild server: %w", err)
	}
	upstream, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", served.Port))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(d.Host, strconv.Itoa(s.Options.Port)),
		Handler:           d.Router(upstream),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	utils.LogWithColor(utils.Success, fmt.Sprintf("✓ Dev server listening on http://%s", srv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router serves the HTML entry and the import map, and proxies everything
// else to the esbuild server at upstream.
func (d *DevServer) Router(upstream *url.URL) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	page := func(w http.ResponseWriter, _ *http.Request) {
		d.mu.RLock()
		body := d.page
		d.mu.RUnlock()

		if body == nil {
			http.Error(w, "build in progress", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(body)
	}
	r.Get("/", page)
	r.Get("/"+filepath.ToSlash(filepath.Base(d.Bundle.Session.Options.HTML)), page)

	r.Get("/importmap.json", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.RLock()
		m := d.importMap
		d.mu.RUnlock()

		if m == nil {
			http.Error(w, "build in progress", http.StatusServiceUnavailable)
			return
		}
		data, err := m.MarshalIndent()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/importmap+json")
		w.Write(data)
	})

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	r.NotFound(proxy.ServeHTTP)
	r.MethodNotAllowed(proxy.ServeHTTP)
	return r
}
