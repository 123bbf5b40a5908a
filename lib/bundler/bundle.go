package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"micromachine.dev/esbuild-jspm/lib/bundler/plugins"
	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/htmlinject"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

var externalExtensions = []string{".wasm", ".bin", ".txt"}

type Bundle struct {
	Session *Session
	// EntryPoints replaces the module scripts found in the HTML entry.
	EntryPoints []string
}

type Report struct {
	ImportMap *importmap.ImportMap
	// Outputs maps entry points to their output paths under Outdir.
	Outputs  map[string]string
	HTMLPath string
	Duration time.Duration
}

// entry is the HTML page and the module scripts it references.
type entry struct {
	doc []byte
	// srcs maps an entry point path, relative to the root, to the src
	// attribute it came from.
	srcs map[string]string
}

func (b *Bundle) loadEntry() (*entry, []string, error) {
	s := b.Session
	htmlPath := filepath.Join(s.Root, s.Options.HTML)

	doc, err := os.ReadFile(htmlPath)
	if err != nil && !(errors.Is(err, os.ErrNotExist) && len(b.EntryPoints) > 0) {
		return nil, nil, fmt.Errorf("could not read HTML entry: %w", err)
	}

	e := &entry{doc: doc, srcs: map[string]string{}}
	if doc != nil {
		srcs, err := htmlinject.ScanModuleScripts(strings.NewReader(string(doc)))
		if err != nil {
			return nil, nil, fmt.Errorf("could not parse %s: %w", s.Options.HTML, err)
		}
		htmlDir := path.Dir(filepath.ToSlash(s.Options.HTML))
		for _, src := range srcs {
			e.srcs[entryPath(htmlDir, src)] = src
		}
	}

	if len(b.EntryPoints) > 0 {
		return e, b.EntryPoints, nil
	}
	if len(e.srcs) == 0 {
		return nil, nil, fmt.Errorf("no <script type=\"module\"> found in %s", s.Options.HTML)
	}

	entries := make([]string, 0, len(e.srcs))
	for p := range e.srcs {
		entries = append(entries, p)
	}
	return e, entries, nil
}

// entryPath turns a script src into a path relative to the project root.
func entryPath(htmlDir, src string) string {
	src = strings.SplitN(src, "?", 2)[0]
	if strings.HasPrefix(src, "/") {
		return path.Clean(strings.TrimPrefix(src, "/"))
	}
	return path.Join(htmlDir, src)
}

func (b *Bundle) buildOptions(entries []string, mode config.Mode, dev bool, onCycle func(plugins.Cycle) error) api.BuildOptions {
	s := b.Session

	jspm := plugins.JSPMPlugin{
		Coordinator: s.Coordinator,
		Mode:        mode,
		Fetcher:     s.Fetcher,
		Logger:      s.Logger,
		OnCycle:     onCycle,
	}
	pre, post := jspm.New()
	nodeBuiltinsPlugin := plugins.NodeBuiltinsPlugin{
		Coordinator:  s.Coordinator,
		Mode:         mode,
		Dependencies: s.Dependencies,
	}
	externalFilesPlugin := plugins.ExternalFilePlugin{Extensions: externalExtensions}

	env := "production"
	if s.Options.Development || dev {
		env = "development"
	}

	names := "assets/[name]-[hash]"
	if dev {
		names = "assets/[name]"
	}

	minify := s.Options.Minify && !dev
	return api.BuildOptions{
		Plugins:        []api.Plugin{nodeBuiltinsPlugin.New(), pre, externalFilesPlugin.New(), post},
		EntryPoints:    entries,
		Outdir:         s.Options.Outdir,
		EntryNames:     names,
		ChunkNames:     "assets/chunks/[name]-[hash]",
		AssetNames:     "assets/[name]-[hash]",
		AbsWorkingDir:  s.Root,
		Bundle:         true,
		Write:          !dev,
		AllowOverwrite: true,
		Splitting:      true,
		Format:         api.FormatESModule,
		Platform:       api.PlatformBrowser,
		Target:         api.ES2020,
		Loader:         map[string]api.Loader{".js": api.LoaderJSX},
		Metafile:       true,
		Sourcemap:      api.SourceMapLinked,
		Conditions:     s.Options.Conditions(),

		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		Define: map[string]string{
			"process.env.NODE_ENV":            toJSString(env),
			"globalThis.process.env.NODE_ENV": toJSString(env),
			"import.meta.env.MODE":            toJSString(env),
		},
	}
}

// Pack builds the project into Outdir and writes the HTML entry with the
// import map injected.
func (b *Bundle) Pack(ctx context.Context) (*Report, error) {
	s := b.Session
	start := time.Now()

	e, entries, err := b.loadEntry()
	if err != nil {
		return nil, err
	}

	outdir := filepath.Join(s.Root, s.Options.Outdir)
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	utils.LogWithColor(utils.Cyan, fmt.Sprintf("Bundling %d entry point(s) in %s mode...", len(entries), s.Options.Mode))

	var cycle plugins.Cycle
	result := api.Build(b.buildOptions(entries, s.Options.Mode, false, func(c plugins.Cycle) error {
		cycle = c
		return nil
	}))

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			s.Logger.Error(fmt.Sprintf("✗ %s", formatMessage(msg)))
		}
		if cycle.Err != nil {
			return nil, fmt.Errorf("bundle failed with %d error(s): %w", len(result.Errors), cycle.Err)
		}
		return nil, fmt.Errorf("bundle failed with %d error(s)", len(result.Errors))
	}
	for _, msg := range result.Warnings {
		s.Logger.Warn(formatMessage(msg))
	}

	outputs, err := entryOutputs(result.Metafile, s.Options.Outdir)
	if err != nil {
		return nil, err
	}

	report := &Report{ImportMap: cycle.ImportMap, Outputs: outputs}

	if e.doc != nil {
		rewrite := map[string]string{}
		for entryPoint, out := range outputs {
			if src, ok := e.srcs[entryPoint]; ok {
				rewrite[src] = "/" + out
			}
		}

		page, err := s.RenderHTML(ctx, e.doc, s.Options.Mode, cycle.ImportMap, rewrite)
		if err != nil {
			return nil, err
		}
		report.HTMLPath = filepath.Join(outdir, filepath.Base(s.Options.HTML))
		if err := os.WriteFile(report.HTMLPath, page, 0644); err != nil {
			return nil, fmt.Errorf("could not write HTML: %w", err)
		}
	}

	if s.Options.Mode == config.ModeProxy && cycle.ImportMap != nil {
		data, err := cycle.ImportMap.MarshalIndent()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(outdir, "importmap.json"), data, 0644); err != nil {
			return nil, fmt.Errorf("could not write import map: %w", err)
		}
	}

	if err := b.copyPublic(outdir); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	utils.LogWithColor(utils.Success, fmt.Sprintf("✓ Bundling completed in %s", report.Duration))
	return report, nil
}

func (b *Bundle) copyPublic(outdir string) error {
	s := b.Session
	if s.Options.Public == "" {
		return nil
	}

	dir := filepath.Join(s.Root, s.Options.Public)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not stat public directory: %w", err)
	}

	now := time.Now()
	utils.LogWithColor(utils.Default, "Copying public files...")
	if err := copyDir(dir, outdir, []string{outdir}); err != nil {
		s.Logger.Error("✗ Could not copy public files", slog.Any("error", err))
		return fmt.Errorf("could not copy public files: %w", err)
	}
	utils.LogWithColor(utils.Success, fmt.Sprintf("✓ Public files copied in %s", time.Since(now)))
	return nil
}

type metafile struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint"`
	} `json:"outputs"`
}

// entryOutputs maps every entry point in the esbuild metafile to its JS
// output, relative to outdir.
func entryOutputs(raw, outdir string) (map[string]string, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("could not parse metafile: %w", err)
	}

	prefix := path.Clean(filepath.ToSlash(outdir)) + "/"
	out := map[string]string{}
	for file, o := range meta.Outputs {
		if o.EntryPoint == "" || path.Ext(file) != ".js" {
			continue
		}
		out[o.EntryPoint] = strings.TrimPrefix(file, prefix)
	}
	return out, nil
}

func formatMessage(msg api.Message) string {
	text := msg.Text
	if msg.PluginName != "" {
		text = fmt.Sprintf("[plugin %s] %s", msg.PluginName, text)
	}
	if msg.Location != nil {
		text = fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, text)
	}
	return text
}

func copyDir(src, dst string, ignorePath []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)

		for _, p := range ignorePath {
			if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

func toJSString(val string) string {
	b, _ := json.Marshal(val)
	return string(b)
}
