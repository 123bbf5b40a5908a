package bundler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/resolver"
)

var fakeFiles = map[string]string{
	"/registry/greet":                   `{"name":"greet","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{"name":"greet","version":"1.0.0"}}}`,
	"/registry/es-module-shims":         `{"name":"es-module-shims","dist-tags":{"latest":"1.10.0"},"versions":{"1.10.0":{"name":"es-module-shims","version":"1.10.0"}}}`,
	"/cdn/npm:greet@1.0.0/package.json": `{"name":"greet","version":"1.0.0","exports":{".":"./index.js"}}`,
	"/cdn/npm:greet@1.0.0/index.js":     `import word from "./word.js"; export default function greet() { console.log(word); }`,
	"/cdn/npm:greet@1.0.0/word.js":      `export default "hi-from-cdn";`,
}

func newFakeCDN(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := fakeFiles[r.URL.Path]; ok {
			w.Write([]byte(body))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProject(t *testing.T, main string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":        `<!doctype html><html><head><title>t</title></head><body><script type="module" src="/src/main.js"></script></body></html>`,
		"src/main.js":       main,
		"public/robots.txt": "User-agent: *",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func newTestSession(t *testing.T, dir string, mutate func(*config.Options)) *Session {
	t.Helper()
	srv := newFakeCDN(t)
	opts := config.Defaults()
	opts.RegistryURL = srv.URL + "/registry"
	opts.ProviderURL = srv.URL + "/cdn/"
	opts.Cache.Disabled = true
	if mutate != nil {
		mutate(&opts)
	}

	s, err := NewSession(context.Background(), dir, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPackProxyMode(t *testing.T) {
	dir := newProject(t, `import greet from "greet"; greet();`)
	s := newTestSession(t, dir, nil)

	report, err := (&Bundle{Session: s}).Pack(context.Background())
	require.NoError(t, err)

	out, ok := report.Outputs["src/main.js"]
	require.True(t, ok, "outputs: %v", report.Outputs)
	assert.True(t, strings.HasPrefix(out, "assets/main-"))

	js := readFile(t, filepath.Join(dir, "dist", out))
	assert.Contains(t, js, `from "greet"`)
	assert.NotContains(t, js, "hi-from-cdn")

	page := readFile(t, report.HTMLPath)
	assert.Contains(t, page, `<script async src="https://ga.jspm.io/npm:es-module-shims@1.10.0/dist/es-module-shims.js"></script>`)
	assert.Contains(t, page, `<script type="importmap">`)
	assert.Contains(t, page, "/cdn/npm:greet@1.0.0/index.js")
	assert.Contains(t, page, `src="/`+out+`"`)

	assert.Contains(t, readFile(t, filepath.Join(dir, "dist", "importmap.json")), `"greet"`)
	assert.Equal(t, "User-agent: *", readFile(t, filepath.Join(dir, "dist", "robots.txt")))

	target, ok := report.ImportMap.Resolve("greet", "")
	assert.True(t, ok)
	assert.True(t, strings.HasSuffix(target, "/cdn/npm:greet@1.0.0/index.js"))
}

func TestPackInlineMode(t *testing.T) {
	dir := newProject(t, `import greet from "greet"; greet();`)
	s := newTestSession(t, dir, func(o *config.Options) { o.DownloadDeps = true })

	report, err := (&Bundle{Session: s}).Pack(context.Background())
	require.NoError(t, err)

	js := readFile(t, filepath.Join(dir, "dist", report.Outputs["src/main.js"]))
	assert.Contains(t, js, "hi-from-cdn")
	assert.NotContains(t, js, `from "greet"`)

	page := readFile(t, report.HTMLPath)
	assert.Contains(t, page, "es-module-shims@1.10.0")
	assert.NotContains(t, page, "importmap")

	_, err = os.Stat(filepath.Join(dir, "dist", "importmap.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPackInlineModeDropsPageImportMap(t *testing.T) {
	dir := newProject(t, `import greet from "greet"; greet();`)
	page := `<!doctype html><html><head><script type="importmap">{"imports":{"greet":"https://stale.test/greet.js"}}</script></head>` +
		`<body><script type="module" src="/src/main.js"></script></body></html>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0644))
	s := newTestSession(t, dir, func(o *config.Options) { o.Mode = config.ModeInline })

	report, err := (&Bundle{Session: s}).Pack(context.Background())
	require.NoError(t, err)

	out := readFile(t, report.HTMLPath)
	assert.NotContains(t, out, "importmap")
	assert.NotContains(t, out, "stale.test")
	assert.Contains(t, out, "es-module-shims@1.10.0")
}

func TestPackUnresolvableImport(t *testing.T) {
	dir := newProject(t, `import "left-pad";`)
	s := newTestSession(t, dir, nil)

	_, err := (&Bundle{Session: s}).Pack(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrUnresolvableSpecifier)
}

func TestNewSessionRejectsInvalidInputMap(t *testing.T) {
	dir := newProject(t, `console.log(1);`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "importmap.json"), []byte(`{"imports": []}`), 0644))

	opts := config.Defaults()
	opts.Cache.Disabled = true
	opts.InputMapPath = "importmap.json"

	_, err := NewSession(context.Background(), dir, opts, nil)
	assert.ErrorIs(t, err, resolver.ErrInvalidInputMap)
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		htmlDir, src, want string
	}{
		{".", "/src/main.js", "src/main.js"},
		{".", "./src/main.js", "src/main.js"},
		{".", "src/main.js?v=1", "src/main.js"},
		{"pages", "./app.js", "pages/app.js"},
		{"pages", "/src/app.js", "src/app.js"},
	}
	for _, tt := range tests {
		if got := entryPath(tt.htmlDir, tt.src); got != tt.want {
			t.Errorf("entryPath(%q, %q) = %q, want %q", tt.htmlDir, tt.src, got, tt.want)
		}
	}
}

func TestEntryOutputs(t *testing.T) {
	meta := `{"outputs": {
		"dist/assets/main-AB12.js":          {"entryPoint": "src/main.js"},
		"dist/assets/main-AB12.js.map":      {},
		"dist/assets/main-CD34.css":         {"entryPoint": "src/main.js"},
		"dist/assets/chunks/shared-EF56.js": {}
	}}`
	got, err := entryOutputs(meta, "dist")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src/main.js": "assets/main-AB12.js"}, got)
}
