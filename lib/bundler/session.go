package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"micromachine.dev/esbuild-jspm/lib/cache"
	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/fetch"
	"micromachine.dev/esbuild-jspm/lib/generator"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/generator/registry"
	"micromachine.dev/esbuild-jspm/lib/htmlinject"
	"micromachine.dev/esbuild-jspm/lib/resolver"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

// Session wires one project's configuration to a generator and a resolution
// coordinator. Builds and the dev server each own one session.
type Session struct {
	Root        string
	Options     config.Options
	Logger      *slog.Logger
	Cache       cache.Cache
	Registry    *registry.Client
	Generator   *generator.Generator
	Coordinator *resolver.Coordinator
	Fetcher     *fetch.Fetcher

	// Dependencies are the ranges declared in the project's package.json.
	Dependencies map[string]string

	shimOnce sync.Once
	shimSrc  string
	shimErr  error
}

// NewSession validates opts and builds the session. An invalid input map
// fails here, before any build starts.
func NewSession(ctx context.Context, root string, opts config.Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve absolute path: %w", err)
	}

	store, err := OpenCache(ctx, opts.Cache)
	if err != nil {
		return nil, err
	}

	client := registry.NewClient(
		registry.WithBaseURL(opts.RegistryURL),
		registry.WithCache(store, opts.Cache.Duration()),
		registry.WithLogger(logger),
	)

	pkg, err := utils.ReadPackageJSON(absRoot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("could not read package.json: %w", err)
	}

	input, err := opts.LoadInputMap(absRoot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("could not load input map: %w", err)
	}

	gen, err := generator.New(ctx, generator.Options{
		Provider:     opts.DefaultProvider,
		ProviderURL:  opts.ProviderURL,
		Conditions:   opts.Conditions(),
		Resolutions:  opts.Resolutions,
		Dependencies: pkg.Ranges(),
		InputMap:     input,
		Registry:     client,
		Logger:       logger,
		OnEvent: func(e generator.Event) {
			logger.Debug(string(e.Kind), slog.String("specifier", e.Specifier), slog.String("target", e.Target), slog.String("scope", e.Scope))
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Session{
		Root:        absRoot,
		Options:     opts,
		Logger:      logger,
		Cache:       store,
		Registry:    client,
		Generator:   gen,
		Coordinator: resolver.New(gen, resolver.Options{Logger: logger, Context: ctx}),
		Fetcher:     fetch.New(client, store, opts.Cache.Duration(), logger),

		Dependencies: pkg.Ranges(),
	}, nil
}

// OpenCache returns the cache backend selected by opts.
func OpenCache(ctx context.Context, opts config.CacheOptions) (cache.Cache, error) {
	switch {
	case opts.Disabled:
		return cache.NewNullCache(), nil
	case opts.RedisURL != "":
		return cache.NewRedisCache(ctx, opts.RedisURL)
	default:
		return cache.NewFileCache(opts.Dir)
	}
}

func (s *Session) Close() error {
	return s.Cache.Close()
}

// ShimSrc returns the es-module-shims URL, looking up the latest version
// once per session when needed.
func (s *Session) ShimSrc(ctx context.Context) (string, error) {
	s.shimOnce.Do(func() {
		version := s.Options.ShimVersion
		if s.Options.NeedsShimVersion() {
			version, s.shimErr = s.Generator.LatestVersion(ctx, config.ShimPackage)
			if s.shimErr != nil {
				s.shimErr = fmt.Errorf("could not resolve %s version: %w", config.ShimPackage, s.shimErr)
				return
			}
		}
		s.shimSrc = s.Options.ShimSrc(version)
	})
	return s.shimSrc, s.shimErr
}

// RenderHTML injects the shim and, in proxy mode, the import map into doc.
func (s *Session) RenderHTML(ctx context.Context, doc []byte, mode config.Mode, m *importmap.ImportMap, rewrite map[string]string) ([]byte, error) {
	shim, err := s.ShimSrc(ctx)
	if err != nil {
		return nil, err
	}

	opts := htmlinject.Options{ShimURL: shim, Rewrite: rewrite}
	if mode == config.ModeProxy {
		if m == nil {
			return nil, errors.New("proxy mode needs an import map")
		}
		opts.ImportMap = m
	}
	return htmlinject.Inject(doc, opts)
}
