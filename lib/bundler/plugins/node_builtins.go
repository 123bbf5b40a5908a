package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/resolver"
)

const requiredNodeBuiltInNamespace = "node-built-in-modules"

// NodelibsPrefix is the jspm package holding browser builds of the Node.js
// builtins.
const NodelibsPrefix = "@jspm/core/nodelibs/"

var nodeBuiltinModules = []string{
	"assert", "async_hooks", "buffer", "child_process", "cluster", "console",
	"constants", "crypto", "dgram", "diagnostics_channel", "dns", "domain",
	"events", "fs", "http", "http2", "https", "module", "net", "os", "path",
	"perf_hooks", "process", "punycode", "querystring", "readline", "repl",
	"stream", "string_decoder", "sys", "timers", "tls", "tty", "url", "util",
	"v8", "vm", "wasi", "worker_threads", "zlib",
}

var nodeModulesReStr = fmt.Sprintf(`^(node:)?(%s)(/[a-z_/]+)?$`, strings.Join(nodeBuiltinModules, "|"))
var nodeModulesRe = regexp.MustCompile(nodeModulesReStr)

// NodeBuiltinsPlugin points imports of Node.js builtins at their jspm
// browser polyfills. A bare builtin name the project lists as a dependency
// (the npm "events" package, say) is left to the jspm plugin. It must run
// before jspm:pre.
type NodeBuiltinsPlugin struct {
	Coordinator *resolver.Coordinator
	Mode        config.Mode
	Context     context.Context
	// Dependencies are the project's declared package ranges.
	Dependencies map[string]string
}

func (p *NodeBuiltinsPlugin) New() api.Plugin {
	if p.Context == nil {
		p.Context = context.Background()
	}

	return api.Plugin{
		Name: "jspm:node-builtins",
		Setup: func(build api.PluginBuild) {
			p.handleRequireCallsToNodeJSBuiltins(build)

			build.OnResolve(api.OnResolveOptions{Filter: nodeModulesReStr}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				lib, ok := p.polyfillFor(args.Path)
				if !ok {
					return api.OnResolveResult{}, nil
				}

				target, err := p.Coordinator.ResolveOrInstall(p.Context, lib, args.Importer)
				if err != nil {
					return api.OnResolveResult{}, err
				}

				if p.Mode == config.ModeInline {
					return api.OnResolveResult{Path: target, Namespace: URLNamespace}, nil
				}
				return api.OnResolveResult{Path: lib, External: true}, nil
			})
		},
	}
}

// polyfillFor returns the nodelibs specifier replacing a builtin import.
func (p *NodeBuiltinsPlugin) polyfillFor(specifier string) (string, bool) {
	m := nodeModulesRe.FindStringSubmatch(specifier)
	if m == nil {
		return "", false
	}
	if m[1] == "" {
		if _, declared := p.Dependencies[m[2]]; declared {
			return "", false
		}
	}
	return NodelibsPrefix + m[2] + m[3], true
}

// require() of a builtin cannot be an external ESM import, so it goes
// through a CommonJS wrapper module that imports the polyfill.
func (p *NodeBuiltinsPlugin) handleRequireCallsToNodeJSBuiltins(build api.PluginBuild) {
	build.OnResolve(api.OnResolveOptions{Filter: nodeModulesReStr}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
		if args.Kind != api.ResolveJSRequireCall {
			return api.OnResolveResult{}, nil
		}
		lib, ok := p.polyfillFor(args.Path)
		if !ok {
			return api.OnResolveResult{}, nil
		}
		return api.OnResolveResult{
			Namespace: requiredNodeBuiltInNamespace,
			Path:      lib,
		}, nil
	})

	build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: requiredNodeBuiltInNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
		contents := fmt.Sprintf(`import libDefault from '%s';
module.exports = libDefault;`, args.Path)
		return api.OnLoadResult{
			Contents: &contents,
			Loader:   api.LoaderJS,
		}, nil
	})
}
