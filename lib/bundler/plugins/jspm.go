package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/resolver"
)

// URLNamespace holds remote modules loaded in inline mode.
const URLNamespace = "jspm:url"

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cycle is what the post plugin reports at the end of every build.
type Cycle struct {
	// ImportMap is the finalized snapshot. It is set in both modes.
	ImportMap *importmap.ImportMap
	// Err joins every install failure of the cycle.
	Err    error
	Result *api.BuildResult
}

type JSPMPlugin struct {
	Coordinator *resolver.Coordinator
	Mode        config.Mode
	// Fetcher loads remote modules in inline mode.
	Fetcher Fetcher
	Logger  *slog.Logger
	Context context.Context
	// OnCycle runs once the cycle's import map is final.
	OnCycle func(Cycle) error
}

// New returns the pre and post plugins. Pre must come first in the plugin
// list and post last.
func (p *JSPMPlugin) New() (pre, post api.Plugin) {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Context == nil {
		p.Context = context.Background()
	}

	pre = api.Plugin{
		Name: "jspm:pre",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				p.Coordinator.Reset()
				return api.OnStartResult{}, nil
			})

			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, p.resolve)

			if p.Mode == config.ModeInline {
				build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: URLNamespace}, p.load)
			}
		},
	}

	post = api.Plugin{
		Name: "jspm:post",
		Setup: func(build api.PluginBuild) {
			build.OnEnd(p.end)
		},
	}
	return pre, post
}

func (p *JSPMPlugin) resolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Kind == api.ResolveEntryPoint {
		return api.OnResolveResult{}, nil
	}

	d := p.Coordinator.Classify(args.Path, args.Importer)
	if d.Class == resolver.LocalPassThrough {
		return api.OnResolveResult{}, nil
	}

	target := d.Target
	if target == "" {
		var err error
		target, err = p.Coordinator.ResolveOrInstall(p.Context, args.Path, args.Importer)
		if err != nil {
			return api.OnResolveResult{}, err
		}
	}

	if p.Mode == config.ModeInline {
		return api.OnResolveResult{Path: target, Namespace: URLNamespace}, nil
	}

	// the browser resolves the bare specifier through the import map
	external := args.Path
	if d.Resolved() {
		external = target
	}
	return api.OnResolveResult{Path: external, External: true}, nil
}

func (p *JSPMPlugin) load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	data, err := p.Fetcher.Fetch(p.Context, args.Path)
	if err != nil {
		return api.OnLoadResult{}, fmt.Errorf("fetching %s: %w", args.Path, err)
	}

	contents := string(data)
	return api.OnLoadResult{
		Contents: &contents,
		Loader:   loaderFor(args.Path),
	}, nil
}

func loaderFor(url string) api.Loader {
	u := strings.SplitN(url, "?", 2)[0]
	switch path.Ext(u) {
	case ".css":
		return api.LoaderCSS
	case ".json":
		return api.LoaderJSON
	case ".ts", ".mts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	case ".tsx":
		return api.LoaderTSX
	}
	return api.LoaderJS
}

func (p *JSPMPlugin) end(result *api.BuildResult) (api.OnEndResult, error) {
	snapshot, err := p.Coordinator.FinalizeCycle(p.Context)
	if snapshot == nil {
		// only a cancelled session leaves no snapshot
		return api.OnEndResult{}, err
	}
	if err != nil {
		p.Logger.Debug("cycle finished with install failures", slog.Any("error", err))
	}

	p.Logger.Debug("import map finalized", slog.Int("entries", snapshot.Len()))

	if p.OnCycle == nil {
		return api.OnEndResult{}, nil
	}
	if cbErr := p.OnCycle(Cycle{ImportMap: snapshot, Err: err, Result: result}); cbErr != nil {
		return api.OnEndResult{Errors: []api.Message{{Text: cbErr.Error()}}}, nil
	}
	return api.OnEndResult{}, nil
}
