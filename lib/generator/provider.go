package generator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"micromachine.dev/esbuild-jspm/lib/generator/registry"
)

const (
	ProviderJSPM     = "jspm"
	ProviderESMSh    = "esm.sh"
	ProviderJSDelivr = "jsdelivr"
)

var defaultBases = map[string]string{
	ProviderJSPM:     "https://ga.jspm.io/",
	ProviderESMSh:    "https://esm.sh/",
	ProviderJSDelivr: "https://cdn.jsdelivr.net/",
}

// Providers lists the supported CDN provider names.
func Providers() []string {
	names := []string{ProviderJSPM, ProviderESMSh, ProviderJSDelivr}
	slices.Sort(names)
	return names
}

// Provider turns npm coordinates into CDN URLs.
type Provider interface {
	Name() string
	// PackageURL is the base URL of name@version, ending in "/".
	PackageURL(name, version string) string
	// Entry resolves subpath of name@version for the given conditions.
	Entry(ctx context.Context, name, version, subpath string, conditions []string) (string, error)
	// Parse recovers name and version from a URL this provider produced.
	Parse(url string) (name, version string, ok bool)
	// Scope is the import map scope for transitive dependencies. Providers
	// that rewrite nested imports on the server return "".
	Scope() string
	// Subpaths lists exported subpaths of name@version worth mapping in scopes.
	Subpaths(ctx context.Context, name, version string) ([]string, error)
}

// NewProvider builds the named provider. An empty base uses the public CDN.
func NewProvider(name, base string, client *registry.Client) (Provider, error) {
	if base == "" {
		base = defaultBases[name]
	}
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	switch name {
	case ProviderJSPM:
		return &jspmProvider{base: base, client: client}, nil
	case ProviderESMSh:
		return &esmShProvider{base: base}, nil
	case ProviderJSDelivr:
		return &jsdelivrProvider{base: base}, nil
	}
	return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(Providers(), ", "))
}

func isDevelopment(conditions []string) bool {
	return slices.Contains(conditions, "development")
}

// jspmProvider serves packages from ga.jspm.io, whose package.json files
// carry normalized exports.
type jspmProvider struct {
	base   string
	client *registry.Client
	pkgs   sync.Map // name@version -> *PackageJSON
}

func (p *jspmProvider) Name() string  { return ProviderJSPM }
func (p *jspmProvider) Scope() string { return p.base }

func (p *jspmProvider) PackageURL(name, version string) string {
	return fmt.Sprintf("%snpm:%s@%s/", p.base, name, version)
}

func (p *jspmProvider) packageJSON(ctx context.Context, name, version string) (*PackageJSON, error) {
	key := name + "@" + version
	if pkg, ok := p.pkgs.Load(key); ok {
		return pkg.(*PackageJSON), nil
	}

	var pkg PackageJSON
	if err := p.client.GetJSON(ctx, p.PackageURL(name, version)+"package.json", &pkg); err != nil {
		return nil, fmt.Errorf("could not read package.json of %s@%s: %w", name, version, err)
	}
	p.pkgs.Store(key, &pkg)
	return &pkg, nil
}

func (p *jspmProvider) Entry(ctx context.Context, name, version, subpath string, conditions []string) (string, error) {
	pkg, err := p.packageJSON(ctx, name, version)
	if err != nil {
		return "", err
	}

	entry, ok := pkg.ResolveEntry(subpath, conditions)
	if !ok {
		return "", fmt.Errorf("%w: %s@%s does not export %q", registry.ErrNotFound, name, version, subpath)
	}
	return p.PackageURL(name, version) + strings.TrimPrefix(entry, "./"), nil
}

func (p *jspmProvider) Subpaths(ctx context.Context, name, version string) ([]string, error) {
	pkg, err := p.packageJSON(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return pkg.Subpaths(), nil
}

func (p *jspmProvider) Parse(url string) (string, string, bool) {
	rest, ok := strings.CutPrefix(url, p.base+"npm:")
	if !ok {
		return "", "", false
	}
	name, version, _, ok := splitNameVersion(rest)
	return name, version, ok
}

// esmShProvider lets esm.sh pick the entry and rewrite nested imports.
type esmShProvider struct {
	base string
}

func (p *esmShProvider) Name() string  { return ProviderESMSh }
func (p *esmShProvider) Scope() string { return "" }

func (p *esmShProvider) PackageURL(name, version string) string {
	return fmt.Sprintf("%s%s@%s/", p.base, name, version)
}

func (p *esmShProvider) Entry(_ context.Context, name, version, subpath string, conditions []string) (string, error) {
	url := strings.TrimSuffix(p.PackageURL(name, version), "/")
	if subpath != "." {
		url += "/" + strings.TrimPrefix(subpath, "./")
	}
	if isDevelopment(conditions) {
		url += "?dev"
	}
	return url, nil
}

func (p *esmShProvider) Subpaths(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (p *esmShProvider) Parse(url string) (string, string, bool) {
	rest, ok := strings.CutPrefix(url, p.base)
	if !ok {
		return "", "", false
	}
	name, version, _, ok := splitNameVersion(rest)
	return name, version, ok
}

// jsdelivrProvider uses the /+esm endpoint, which bundles nested imports.
type jsdelivrProvider struct {
	base string
}

func (p *jsdelivrProvider) Name() string  { return ProviderJSDelivr }
func (p *jsdelivrProvider) Scope() string { return "" }

func (p *jsdelivrProvider) PackageURL(name, version string) string {
	return fmt.Sprintf("%snpm/%s@%s/", p.base, name, version)
}

func (p *jsdelivrProvider) Entry(_ context.Context, name, version, subpath string, _ []string) (string, error) {
	url := p.PackageURL(name, version)
	if subpath != "." {
		url += strings.TrimPrefix(subpath, "./") + "/"
	}
	return url + "+esm", nil
}

func (p *jsdelivrProvider) Subpaths(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (p *jsdelivrProvider) Parse(url string) (string, string, bool) {
	rest, ok := strings.CutPrefix(url, p.base+"npm/")
	if !ok {
		return "", "", false
	}
	name, version, _, ok := splitNameVersion(rest)
	return name, version, ok
}
