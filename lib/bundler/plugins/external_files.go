package plugins

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// ExternalFilePlugin leaves local imports of the listed file types to the
// page. Their paths are kept as written, so they must already be served next
// to the HTML entry.
type ExternalFilePlugin struct {
	Extensions []string
}

func (p *ExternalFilePlugin) New() api.Plugin {
	return api.Plugin{
		Name: "external-files",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Namespace == URLNamespace || args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}

				ext := strings.ToLower(filepath.Ext(strings.SplitN(args.Path, "?", 2)[0]))
				if slices.Contains(p.Extensions, ext) {
					return api.OnResolveResult{
						Path:     args.Path,
						External: true,
					}, nil
				}

				return api.OnResolveResult{}, nil
			})
		},
	}
}
