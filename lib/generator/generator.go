// Package generator builds import maps against a CDN provider. It installs
// bare specifiers by picking a version from the npm registry and resolving
// the provider URL of the requested entry, then accumulates the results in an
// import map that the resolution coordinator reads.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/generator/registry"
)

var (
	// ErrUnresolvable is returned when no package or version matches a specifier.
	ErrUnresolvable = registry.ErrNotFound
	// ErrNetwork is returned for transient registry or CDN failures.
	ErrNetwork = registry.ErrNetwork
	// ErrInvalidInputMap is returned when a pre-supplied import map is rejected.
	ErrInvalidInputMap = importmap.ErrInvalid
)

const traceConcurrency = 8

type EventKind string

const (
	EventInstall   EventKind = "install"
	EventTrace     EventKind = "trace"
	EventReinstall EventKind = "reinstall"
)

// Event is emitted for every mapping the generator writes.
type Event struct {
	Kind      EventKind
	Specifier string
	Target    string
	Scope     string
}

type Options struct {
	// Provider is one of Providers(); empty selects jspm.
	Provider string
	// ProviderURL overrides the provider's CDN base URL.
	ProviderURL string
	// Conditions are the export conditions of the target environment.
	Conditions []string
	// Resolutions pin package names to a version, range or dist-tag.
	Resolutions map[string]string
	// Dependencies are the project's package.json ranges, used when no
	// resolution applies.
	Dependencies map[string]string
	// InputMap seeds the generator; its entries are revalidated on New.
	InputMap *importmap.ImportMap
	Registry *registry.Client
	Logger   *slog.Logger
	OnEvent  func(Event)
}

type Generator struct {
	provider     Provider
	registry     *registry.Client
	conditions   []string
	resolutions  map[string]string
	dependencies map[string]string
	logger       *slog.Logger
	onEvent      func(Event)

	mu        sync.RWMutex
	input     *importmap.ImportMap
	installed *importmap.ImportMap
	traced    map[string]bool
}

// New creates a generator. A supplied input map is revalidated for the
// configured conditions before New returns, so an unusable map fails here.
func New(ctx context.Context, opts Options) (*Generator, error) {
	if opts.Registry == nil {
		opts.Registry = registry.NewClient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Provider == "" {
		opts.Provider = ProviderJSPM
	}

	provider, err := NewProvider(opts.Provider, opts.ProviderURL, opts.Registry)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		provider:     provider,
		registry:     opts.Registry,
		conditions:   opts.Conditions,
		resolutions:  maps.Clone(opts.Resolutions),
		dependencies: maps.Clone(opts.Dependencies),
		logger:       opts.Logger,
		onEvent:      opts.OnEvent,
		input:        opts.InputMap.Clone(),
		installed:    importmap.New(),
		traced:       map[string]bool{},
	}

	if opts.InputMap != nil {
		if err := g.Reinstall(ctx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Generator) Provider() Provider { return g.provider }

// Install resolves specifier against the registry and records it in the map.
func (g *Generator) Install(ctx context.Context, specifier string) error {
	pkg, ok := ParseSpecifier(specifier)
	if !ok {
		return fmt.Errorf("%w: %q is not a package specifier", ErrUnresolvable, specifier)
	}

	version, err := g.registry.ResolveVersion(ctx, pkg.Name, g.constraintFor(pkg))
	if err != nil {
		return err
	}

	entry, err := g.provider.Entry(ctx, pkg.Name, version, pkg.Subpath, g.conditions)
	if err != nil {
		return err
	}

	// dependencies are mapped before the entry itself, so a failed trace
	// leaves no top-level mapping behind
	if g.provider.Scope() != "" {
		if err := g.trace(ctx, pkg.Name, version); err != nil {
			return err
		}
	}

	key := pkg.MapKey()
	g.mu.Lock()
	g.installed.Set(key, entry)
	g.mu.Unlock()
	g.emit(Event{Kind: EventInstall, Specifier: key, Target: entry})
	return nil
}

// Resolve looks specifier up in the installed entries, then the input map.
func (g *Generator) Resolve(specifier, parentURL string) (string, bool) {
	key := specifier
	if pkg, ok := ParseSpecifier(specifier); ok {
		key = pkg.MapKey()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if target, ok := g.installed.Resolve(key, parentURL); ok {
		return target, true
	}
	return g.input.Resolve(key, parentURL)
}

// Map returns a copy of the accumulated import map.
func (g *Generator) Map() *importmap.ImportMap {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := g.input.Clone()
	out.Merge(g.installed)
	return out
}

// Reset drops everything installed since the last reset. The input map is
// kept.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.installed = importmap.New()
	g.traced = map[string]bool{}
}

// LatestVersion returns the latest published version of name.
func (g *Generator) LatestVersion(ctx context.Context, name string) (string, error) {
	return g.registry.ResolveVersion(ctx, name, "latest")
}

// Reinstall re-points every input map entry produced by the active provider
// to the entry matching the configured conditions, keeping its version.
func (g *Generator) Reinstall(ctx context.Context) error {
	type update struct {
		scope, key, target string
	}

	g.mu.RLock()
	var work []update
	for key, target := range g.input.Imports {
		work = append(work, update{key: key, target: target})
	}
	for scope, entries := range g.input.Scopes {
		for key, target := range entries {
			work = append(work, update{scope: scope, key: key, target: target})
		}
	}
	g.mu.RUnlock()

	results := make([]update, len(work))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(traceConcurrency)

	for i, w := range work {
		eg.Go(func() error {
			results[i] = w
			if strings.HasSuffix(w.key, "/") {
				return nil
			}
			pkg, ok := ParseSpecifier(w.key)
			if !ok {
				return nil
			}
			name, version, ok := g.provider.Parse(w.target)
			if !ok || name != pkg.Name {
				return nil
			}

			entry, err := g.provider.Entry(egCtx, name, version, pkg.Subpath, g.conditions)
			if err != nil {
				return fmt.Errorf("%w: %s pinned to %s@%s: %v", ErrInvalidInputMap, w.key, name, version, err)
			}
			results[i].target = entry
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	g.mu.Lock()
	for _, r := range results {
		if r.scope == "" {
			g.input.Set(r.key, r.target)
		} else {
			g.input.SetScoped(r.scope, r.key, r.target)
		}
	}
	g.mu.Unlock()

	for _, r := range results {
		g.emit(Event{Kind: EventReinstall, Specifier: r.key, Target: r.target, Scope: r.scope})
	}
	return nil
}

func (g *Generator) constraintFor(pkg Package) string {
	if pkg.Constraint != "" {
		return pkg.Constraint
	}
	if r, ok := g.resolutions[pkg.Name]; ok {
		return r
	}
	if r, ok := g.dependencies[pkg.Name]; ok {
		if _, err := semver.NewConstraint(r); err == nil {
			return r
		}
		g.logger.Debug("ignoring non-registry dependency range", slog.String("package", pkg.Name), slog.String("range", r))
	}
	return ""
}

// trace maps the dependencies of name@version into the provider scope.
func (g *Generator) trace(ctx context.Context, name, version string) error {
	key := name + "@" + version

	g.mu.Lock()
	if g.traced[key] {
		g.mu.Unlock()
		return nil
	}
	g.traced[key] = true
	g.mu.Unlock()

	err := g.traceManifest(ctx, name, version)
	if err != nil {
		g.mu.Lock()
		delete(g.traced, key)
		g.mu.Unlock()
	}
	return err
}

func (g *Generator) traceManifest(ctx context.Context, name, version string) error {
	key := name + "@" + version

	manifest, err := g.registry.Manifest(ctx, name, version)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(traceConcurrency)

	for dep, rng := range manifest.Dependencies {
		eg.Go(func() error {
			return g.traceDependency(egCtx, name, version, dep, rng)
		})
	}
	for dep, rng := range manifest.PeerDependencies {
		if _, ok := manifest.Dependencies[dep]; ok {
			continue
		}
		eg.Go(func() error {
			if err := g.traceDependency(egCtx, name, version, dep, rng); err != nil {
				g.logger.Warn(fmt.Sprintf("could not map peer dependency %s of %s: %v", dep, key, err))
			}
			return nil
		})
	}

	return eg.Wait()
}

func (g *Generator) traceDependency(ctx context.Context, parent, parentVersion, dep, rng string) error {
	version, err := g.dependencyVersion(ctx, dep, rng)
	if err != nil {
		return fmt.Errorf("%s@%s depends on %s@%s: %w", parent, parentVersion, dep, rng, err)
	}

	parentScope := g.provider.PackageURL(parent, parentVersion)

	entry, err := g.provider.Entry(ctx, dep, version, ".", g.conditions)
	switch {
	case err == nil:
		g.setScoped(parentScope, dep, entry)
	case errors.Is(err, ErrUnresolvable):
		// packages without a root export are only imported through subpaths
	default:
		return err
	}

	subpaths, err := g.provider.Subpaths(ctx, dep, version)
	if err != nil {
		return err
	}
	for _, sp := range subpaths {
		if target, err := g.provider.Entry(ctx, dep, version, sp, g.conditions); err == nil {
			g.setScoped(parentScope, dep+"/"+strings.TrimPrefix(sp, "./"), target)
		}
	}

	return g.trace(ctx, dep, version)
}

// dependencyVersion prefers a resolution, then a version already mapped at
// the top level when it satisfies rng, then the registry.
func (g *Generator) dependencyVersion(ctx context.Context, dep, rng string) (string, error) {
	if r, ok := g.resolutions[dep]; ok {
		return g.registry.ResolveVersion(ctx, dep, r)
	}

	if constraint, err := semver.NewConstraint(rng); err == nil {
		if target, ok := g.Resolve(dep, ""); ok {
			if name, version, ok := g.provider.Parse(target); ok && name == dep {
				if v, err := semver.NewVersion(version); err == nil && constraint.Check(v) {
					return version, nil
				}
			}
		}
	} else {
		g.logger.Debug("unsupported dependency range, using latest", slog.String("package", dep), slog.String("range", rng))
		rng = ""
	}

	return g.registry.ResolveVersion(ctx, dep, rng)
}

// setScoped writes into the shared provider scope unless another version of
// the same specifier is already there, in which case the mapping goes into
// the parent package's own scope.
func (g *Generator) setScoped(parentScope, specifier, target string) {
	scope := g.provider.Scope()

	g.mu.Lock()
	if existing, ok := g.installed.Scopes[scope][specifier]; ok && existing != target {
		scope = parentScope
	}
	g.installed.SetScoped(scope, specifier, target)
	g.mu.Unlock()

	g.emit(Event{Kind: EventTrace, Specifier: specifier, Target: target, Scope: scope})
}

func (g *Generator) emit(e Event) {
	g.logger.Debug(string(e.Kind), slog.String("specifier", e.Specifier), slog.String("target", e.Target))
	if g.onEvent != nil {
		g.onEvent(e)
	}
}
