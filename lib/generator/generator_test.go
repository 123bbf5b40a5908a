package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/generator/registry"
)

var packuments = map[string]string{
	"react": `{
		"name": "react",
		"dist-tags": {"latest": "18.2.0"},
		"versions": {
			"17.0.2": {"name": "react", "version": "17.0.2", "dependencies": {"object-assign": "^4.1.1"}},
			"18.2.0": {"name": "react", "version": "18.2.0"}
		}
	}`,
	"react-dom": `{
		"name": "react-dom",
		"dist-tags": {"latest": "17.0.2"},
		"versions": {
			"17.0.2": {"name": "react-dom", "version": "17.0.2", "dependencies": {"object-assign": "^4.1.1", "scheduler": "^0.20.2"}, "peerDependencies": {"react": "17.0.2"}}
		}
	}`,
	"object-assign": `{
		"name": "object-assign",
		"dist-tags": {"latest": "4.1.1"},
		"versions": {"4.1.1": {"name": "object-assign", "version": "4.1.1"}}
	}`,
	"broken": `{
		"name": "broken",
		"dist-tags": {"latest": "1.0.0"},
		"versions": {"1.0.0": {"name": "broken", "version": "1.0.0", "dependencies": {"missing-dep": "^1.0.0"}}}
	}`,
	"scheduler": `{
		"name": "scheduler",
		"dist-tags": {"latest": "0.20.2"},
		"versions": {"0.20.2": {"name": "scheduler", "version": "0.20.2"}}
	}`,
}

var cdnPackages = map[string]string{
	"react@17.0.2":        `{"name":"react","version":"17.0.2","exports":{".":{"development":"./dev.index.js","default":"./index.js"},"./jsx-runtime":{"development":"./dev.jsx-runtime.js","default":"./jsx-runtime.js"},"./package.json":"./package.json"}}`,
	"react@18.2.0":        `{"name":"react","version":"18.2.0","exports":{".":{"development":"./dev.index.js","default":"./index.js"}}}`,
	"react-dom@17.0.2":    `{"name":"react-dom","version":"17.0.2","exports":{".":{"development":"./dev.index.js","default":"./index.js"},"./server":{"browser":"./server.browser.js","default":"./server.js"}}}`,
	"object-assign@4.1.1": `{"name":"object-assign","version":"4.1.1","exports":{".":"./index.js"}}`,
	"broken@1.0.0":        `{"name":"broken","version":"1.0.0","exports":{".":"./index.js"}}`,
	"scheduler@0.20.2":    `{"name":"scheduler","version":"0.20.2","exports":{".":{"development":"./dev.index.js","default":"./index.js"},"./tracing":{"default":"./tracing.js"}}}`,
}

// fakeNPM serves packuments under /registry and jspm-style package.json
// files under /cdn.
type fakeNPM struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newFakeNPM(t *testing.T) *fakeNPM {
	t.Helper()
	f := &fakeNPM{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.mu.Unlock()

		if name, ok := strings.CutPrefix(r.URL.Path, "/registry/"); ok {
			if body, ok := packuments[name]; ok {
				w.Write([]byte(body))
				return
			}
		}
		if rest, ok := strings.CutPrefix(r.URL.Path, "/cdn/npm:"); ok {
			if pkg, ok := strings.CutSuffix(rest, "/package.json"); ok {
				if body, ok := cdnPackages[pkg]; ok {
					w.Write([]byte(body))
					return
				}
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeNPM) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.requests {
		if p == path {
			n++
		}
	}
	return n
}

func newTestGenerator(t *testing.T, f *fakeNPM, opts Options) *Generator {
	t.Helper()
	opts.Registry = registry.NewClient(registry.WithBaseURL(f.URL + "/registry"))
	if opts.ProviderURL == "" {
		opts.ProviderURL = f.URL + "/cdn/"
	}
	if opts.Conditions == nil {
		opts.Conditions = []string{"production", "browser", "module"}
	}
	g, err := New(context.Background(), opts)
	require.NoError(t, err)
	return g
}

func TestInstallLatest(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})

	require.NoError(t, g.Install(context.Background(), "react"))

	target, ok := g.Resolve("react", "")
	require.True(t, ok)
	assert.Equal(t, f.URL+"/cdn/npm:react@18.2.0/index.js", target)
	assert.Contains(t, g.Map().Imports["react"], "react@18.2.0")
}

func TestInstallWithResolution(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{Resolutions: map[string]string{"react": "17.0.2"}})

	require.NoError(t, g.Install(context.Background(), "react"))
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/index.js", g.Map().Imports["react"])
}

func TestInstallUsesProjectDependencyRange(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{Dependencies: map[string]string{"react": "^17.0.0", "react-dom": "workspace:*"}})

	require.NoError(t, g.Install(context.Background(), "react"))
	assert.Contains(t, g.Map().Imports["react"], "react@17.0.2")

	// a non-registry range is ignored rather than failing the install
	require.NoError(t, g.Install(context.Background(), "react-dom"))
	assert.Contains(t, g.Map().Imports["react-dom"], "react-dom@17.0.2")
}

func TestInstallDevelopmentConditions(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{Conditions: []string{"development", "browser", "module"}})

	require.NoError(t, g.Install(context.Background(), "react"))
	assert.Equal(t, f.URL+"/cdn/npm:react@18.2.0/dev.index.js", g.Map().Imports["react"])
}

func TestInstallSubpath(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{Resolutions: map[string]string{"react": "17"}})

	require.NoError(t, g.Install(context.Background(), "react/jsx-runtime"))
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/jsx-runtime.js", g.Map().Imports["react/jsx-runtime"])
}

func TestInstallTracesDependenciesIntoScopes(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})

	require.NoError(t, g.Install(context.Background(), "react-dom"))

	m := g.Map()
	scope := m.Scopes[f.URL+"/cdn/"]
	require.NotNil(t, scope)
	assert.Equal(t, f.URL+"/cdn/npm:object-assign@4.1.1/index.js", scope["object-assign"])
	assert.Equal(t, f.URL+"/cdn/npm:scheduler@0.20.2/index.js", scope["scheduler"])
	assert.Equal(t, f.URL+"/cdn/npm:scheduler@0.20.2/tracing.js", scope["scheduler/tracing"])
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/index.js", scope["react"], "peer dependency is pinned to its range")

	target, ok := g.Resolve("scheduler", f.URL+"/cdn/npm:react-dom@17.0.2/index.js")
	require.True(t, ok)
	assert.Contains(t, target, "scheduler@0.20.2")
}

func TestInstallUnknownPackage(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})

	err := g.Install(context.Background(), "left-pad-does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvable))

	_, ok := g.Resolve("left-pad-does-not-exist", "")
	assert.False(t, ok)
}

func TestInstallVersionedSpecifiers(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, g.Install(ctx, "react@17.0.2"))
	require.NoError(t, g.Install(ctx, "react@18.2.0"))

	tests := []struct {
		specifier string
		want      string
	}{
		{"react@17.0.2", f.URL + "/cdn/npm:react@17.0.2/index.js"},
		{"react@18.2.0", f.URL + "/cdn/npm:react@18.2.0/index.js"},
	}
	for _, tt := range tests {
		target, ok := g.Resolve(tt.specifier, "")
		if !ok || target != tt.want {
			t.Errorf("Resolve(%q) = %q, %v, want %q", tt.specifier, target, ok, tt.want)
		}
	}

	m := g.Map()
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/index.js", m.Imports["react@17.0.2"])
	assert.Equal(t, f.URL+"/cdn/npm:react@18.2.0/index.js", m.Imports["react@18.2.0"])
	assert.NotContains(t, m.Imports, "react")

	_, ok := g.Resolve("react", "")
	assert.False(t, ok)
}

func TestFailedTraceLeavesNoMapping(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})
	ctx := context.Background()

	err := g.Install(ctx, "broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvable))
	assert.Contains(t, err.Error(), "missing-dep")

	assert.NotContains(t, g.Map().Imports, "broken")
	_, ok := g.Resolve("broken", "")
	assert.False(t, ok)

	// a second attempt traces again instead of trusting the failed one
	require.Error(t, g.Install(ctx, "broken"))
	assert.NotContains(t, g.Map().Imports, "broken")
}

func TestInputMapIsRevalidatedForEnvironment(t *testing.T) {
	f := newFakeNPM(t)
	input := importmap.New()
	input.Set("react", f.URL+"/cdn/npm:react@17.0.2/dev.index.js")
	input.Set("legacy", "https://example.com/legacy.js")

	g := newTestGenerator(t, f, Options{InputMap: input})

	target, ok := g.Resolve("react", "")
	require.True(t, ok)
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/index.js", target, "production env re-maps the dev build at the same version")
	assert.Equal(t, "https://example.com/legacy.js", g.Map().Imports["legacy"], "foreign URLs are kept as-is")
	assert.Equal(t, 0, f.count("/registry/react"), "pinned entries never hit the registry")
	assert.Equal(t, f.URL+"/cdn/npm:react@17.0.2/dev.index.js", input.Imports["react"], "caller's map is not mutated")
}

func TestInvalidInputMapFailsAtConstruction(t *testing.T) {
	f := newFakeNPM(t)
	input := importmap.New()
	input.Set("react", f.URL+"/cdn/npm:react@0.0.1/index.js")

	_, err := New(context.Background(), Options{
		InputMap:    input,
		ProviderURL: f.URL + "/cdn/",
		Registry:    registry.NewClient(registry.WithBaseURL(f.URL + "/registry")),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInputMap))
}

func TestResetKeepsInputMap(t *testing.T) {
	f := newFakeNPM(t)
	input := importmap.New()
	input.Set("react", f.URL+"/cdn/npm:react@17.0.2/index.js")
	g := newTestGenerator(t, f, Options{InputMap: input})

	require.NoError(t, g.Install(context.Background(), "object-assign"))
	assert.Len(t, g.Map().Imports, 2)

	g.Reset()

	m := g.Map()
	assert.Len(t, m.Imports, 1)
	assert.Contains(t, m.Imports, "react")
	_, ok := g.Resolve("object-assign", "")
	assert.False(t, ok)
}

func TestESMShProvider(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{Provider: ProviderESMSh, ProviderURL: "https://esm.sh/", Conditions: []string{"development"}})

	require.NoError(t, g.Install(context.Background(), "react-dom/server"))
	m := g.Map()
	assert.Equal(t, "https://esm.sh/react-dom@17.0.2/server?dev", m.Imports["react-dom/server"])
	assert.Empty(t, m.Scopes, "esm.sh rewrites nested imports itself")
}

func TestEventsAreEmitted(t *testing.T) {
	f := newFakeNPM(t)
	var mu sync.Mutex
	var events []Event
	g := newTestGenerator(t, f, Options{OnEvent: func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}})

	require.NoError(t, g.Install(context.Background(), "object-assign"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, EventInstall, events[0].Kind)
	assert.Equal(t, "object-assign", events[0].Specifier)
}

func TestMapSnapshotShape(t *testing.T) {
	f := newFakeNPM(t)
	g := newTestGenerator(t, f, Options{})
	require.NoError(t, g.Install(context.Background(), "react-dom"))

	data, err := g.Map().MarshalIndent()
	require.NoError(t, err)

	var decoded struct {
		Imports map[string]string            `json:"imports"`
		Scopes  map[string]map[string]string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded.Imports, "react-dom")
	assert.NotEmpty(t, decoded.Scopes)
}
