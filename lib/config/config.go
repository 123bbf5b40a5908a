// Package config holds the options of a build or dev server session.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"micromachine.dev/esbuild-jspm/lib/generator"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/generator/registry"
)

type Mode string

const (
	// ModeProxy leaves bare imports external and emits an import map.
	ModeProxy Mode = "proxy"
	// ModeInline downloads remote modules into the bundle.
	ModeInline Mode = "inline"
)

const (
	DefaultShimVersion = "latest"
	// DefaultShimURL is used when no shim URL is configured. {version} is
	// replaced with the resolved es-module-shims version.
	DefaultShimURL = "https://ga.jspm.io/npm:es-module-shims@{version}/dist/es-module-shims.js"

	ShimPackage = "es-module-shims"
)

type CacheOptions struct {
	// Dir is the file cache directory. Empty selects ~/.cache/esbuild-jspm.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`
	// TTL bounds how long registry metadata is reused, e.g. "24h".
	TTL string `toml:"ttl" json:"ttl" yaml:"ttl"`
	// RedisURL selects a redis cache instead of the file cache.
	RedisURL string `toml:"redis_url" json:"redisUrl" yaml:"redisUrl"`
	Disabled bool   `toml:"disabled" json:"disabled" yaml:"disabled"`

	ttl time.Duration
}

// Duration is the parsed TTL. Valid after Validate.
func (c CacheOptions) Duration() time.Duration { return c.ttl }

type Options struct {
	// Env lists the export conditions of the target environment.
	Env             []string          `toml:"env" json:"env" yaml:"env"`
	DefaultProvider string            `toml:"default_provider" json:"defaultProvider" yaml:"defaultProvider"`
	ProviderURL     string            `toml:"provider_url" json:"providerUrl" yaml:"providerUrl"`
	RegistryURL     string            `toml:"registry" json:"registry" yaml:"registry"`
	InputMap        map[string]any    `toml:"input_map" json:"inputMap" yaml:"inputMap"`
	InputMapPath    string            `toml:"input_map_path" json:"inputMapPath" yaml:"inputMapPath"`
	Mode            Mode              `toml:"mode" json:"mode" yaml:"mode"`
	DownloadDeps    bool              `toml:"download_deps" json:"downloadDeps" yaml:"downloadDeps"`
	Debug           bool              `toml:"debug" json:"debug" yaml:"debug"`
	ShimURL         string            `toml:"shim_url" json:"shimUrl" yaml:"shimUrl"`
	ShimVersion     string            `toml:"shim_version" json:"shimVersion" yaml:"shimVersion"`
	Resolutions     map[string]string `toml:"resolutions" json:"resolutions" yaml:"resolutions"`
	Development     bool              `toml:"development" json:"development" yaml:"development"`
	Cache           CacheOptions      `toml:"cache" json:"cache" yaml:"cache"`
	HTML            string            `toml:"html" json:"html" yaml:"html"`
	Outdir          string            `toml:"outdir" json:"outdir" yaml:"outdir"`
	Public          string            `toml:"public" json:"public" yaml:"public"`
	Minify          bool              `toml:"minify" json:"minify" yaml:"minify"`
	Port            int               `toml:"port" json:"port" yaml:"port"`
}

func Defaults() Options {
	return Options{
		DefaultProvider: generator.ProviderJSPM,
		RegistryURL:     registry.DefaultURL,
		Mode:            ModeProxy,
		ShimVersion:     DefaultShimVersion,
		Cache:           CacheOptions{TTL: "24h"},
		HTML:            "index.html",
		Outdir:          "dist",
		Public:          "public",
		Port:            5173,
	}
}

// Load reads the configuration file at path, or the one detected in root
// when path is empty, over the defaults. A missing file is not an error.
func Load(root, path string) (Options, error) {
	var (
		file Options
		err  error
	)
	if path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		file, err = ReadConfigFile[Options](path)
	} else {
		file, _, err = DetectConfigFile[Options](root)
		if errors.Is(err, ErrNoConfigFile) {
			err = nil
		}
	}
	if err != nil {
		return Options{}, err
	}

	opts := Defaults()
	opts.Merge(file)
	return opts, nil
}

// Merge copies every non-zero field of other onto o.
func (o *Options) Merge(other Options) {
	if len(other.Env) > 0 {
		o.Env = other.Env
	}
	if other.DefaultProvider != "" {
		o.DefaultProvider = other.DefaultProvider
	}
	if other.ProviderURL != "" {
		o.ProviderURL = other.ProviderURL
	}
	if other.RegistryURL != "" {
		o.RegistryURL = other.RegistryURL
	}
	if other.InputMap != nil {
		o.InputMap = other.InputMap
	}
	if other.InputMapPath != "" {
		o.InputMapPath = other.InputMapPath
	}
	if other.Mode != "" {
		o.Mode = other.Mode
	}
	o.DownloadDeps = o.DownloadDeps || other.DownloadDeps
	o.Debug = o.Debug || other.Debug
	o.Development = o.Development || other.Development
	o.Minify = o.Minify || other.Minify
	if other.ShimURL != "" {
		o.ShimURL = other.ShimURL
	}
	if other.ShimVersion != "" {
		o.ShimVersion = other.ShimVersion
	}
	if other.Resolutions != nil {
		o.Resolutions = other.Resolutions
	}
	if other.Cache.Dir != "" {
		o.Cache.Dir = other.Cache.Dir
	}
	if other.Cache.TTL != "" {
		o.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.RedisURL != "" {
		o.Cache.RedisURL = other.Cache.RedisURL
	}
	o.Cache.Disabled = o.Cache.Disabled || other.Cache.Disabled
	if other.HTML != "" {
		o.HTML = other.HTML
	}
	if other.Outdir != "" {
		o.Outdir = other.Outdir
	}
	if other.Public != "" {
		o.Public = other.Public
	}
	if other.Port != 0 {
		o.Port = other.Port
	}
}

// Validate checks the options and normalises the mode. downloadDeps is the
// older spelling of inline mode.
func (o *Options) Validate() error {
	var errs []error

	if !slices.Contains(generator.Providers(), o.DefaultProvider) {
		errs = append(errs, fmt.Errorf("defaultProvider: unknown provider %q (supported: %s)",
			o.DefaultProvider, strings.Join(generator.Providers(), ", ")))
	}

	if o.DownloadDeps {
		o.Mode = ModeInline
	}
	switch o.Mode {
	case ModeProxy, ModeInline:
	case "":
		o.Mode = ModeProxy
	default:
		errs = append(errs, fmt.Errorf("mode: must be %q or %q, got %q", ModeProxy, ModeInline, o.Mode))
	}

	if o.InputMap != nil && o.InputMapPath != "" {
		errs = append(errs, errors.New("inputMap and inputMapPath are mutually exclusive"))
	}

	for _, c := range o.Env {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, errors.New("env: empty condition"))
			break
		}
	}

	if o.Cache.TTL != "" {
		ttl, err := time.ParseDuration(o.Cache.TTL)
		if err != nil || ttl < 0 {
			errs = append(errs, fmt.Errorf("cache.ttl: invalid duration %q", o.Cache.TTL))
		}
		o.Cache.ttl = ttl
	}

	if o.Port < 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: %d out of range", o.Port))
	}

	return errors.Join(errs...)
}

// Conditions returns the export conditions to resolve with. Without an
// explicit env they follow the development flag.
func (o Options) Conditions() []string {
	if len(o.Env) > 0 {
		return o.Env
	}
	if o.Development {
		return []string{"browser", "module", "development"}
	}
	return []string{"browser", "module", "production"}
}

// ShimSrc returns the es-module-shims URL for version.
func (o Options) ShimSrc(version string) string {
	tmpl := o.ShimURL
	if tmpl == "" {
		tmpl = DefaultShimURL
	}
	return strings.ReplaceAll(tmpl, "{version}", version)
}

// NeedsShimVersion reports whether ShimSrc needs the latest published
// version looked up first.
func (o Options) NeedsShimVersion() bool {
	tmpl := o.ShimURL
	if tmpl == "" {
		tmpl = DefaultShimURL
	}
	return o.ShimVersion == DefaultShimVersion && strings.Contains(tmpl, "{version}")
}

// LoadInputMap returns the configured input map, or nil when there is none.
func (o Options) LoadInputMap(root string) (*importmap.ImportMap, error) {
	switch {
	case o.InputMap != nil:
		data, err := json.Marshal(o.InputMap)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", importmap.ErrInvalid, err)
		}
		return importmap.Parse(data)
	case o.InputMapPath != "":
		path := o.InputMapPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		return importmap.LoadFile(path)
	}
	return nil, nil
}
