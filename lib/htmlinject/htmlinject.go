// Package htmlinject finds the module entry points of an HTML page and
// writes the es-module-shims and import map tags into its head.
package htmlinject

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	xhtml "golang.org/x/net/html"

	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
)

type attr struct {
	key, val string
}

func readAttrs(z *xhtml.Tokenizer, more bool) []attr {
	var attrs []attr
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		attrs = append(attrs, attr{string(k), string(v)})
	}
	return attrs
}

func get(attrs []attr, key string) (string, bool) {
	for _, a := range attrs {
		if a.key == key {
			return a.val, true
		}
	}
	return "", false
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "//")
}

// ScanModuleScripts returns the src of every local <script type="module">
// in document order.
func ScanModuleScripts(r io.Reader) ([]string, error) {
	z := xhtml.NewTokenizer(r)
	var srcs []string

	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return srcs, nil
		}
		if tt != xhtml.StartTagToken {
			continue
		}

		name, more := z.TagName()
		if string(name) != "script" {
			continue
		}
		attrs := readAttrs(z, more)
		if typ, _ := get(attrs, "type"); typ != "module" {
			continue
		}
		if src, ok := get(attrs, "src"); ok && src != "" && !isRemote(src) {
			srcs = append(srcs, src)
		}
	}
}

type Options struct {
	// ShimURL is always injected.
	ShimURL string
	// ImportMap is injected when non-nil. An import map already in the page
	// is dropped either way.
	ImportMap *importmap.ImportMap
	// Rewrite maps module script srcs to the bundled output paths.
	Rewrite map[string]string
}

// Tags renders the head tags for opts.
func Tags(opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if opts.ShimURL != "" {
		fmt.Fprintf(&buf, `<script async src="%s"></script>`, html.EscapeString(opts.ShimURL))
	}
	if opts.ImportMap != nil {
		data, err := opts.ImportMap.MarshalIndent()
		if err != nil {
			return nil, err
		}
		buf.WriteString(`<script type="importmap">`)
		buf.Write(data)
		buf.WriteString(`</script>`)
	}
	return buf.Bytes(), nil
}

// Inject returns doc with the tags for opts placed right after <head>, or at
// the start of the document when it has no head.
func Inject(doc []byte, opts Options) ([]byte, error) {
	tags, err := Tags(opts)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	z := xhtml.NewTokenizer(bytes.NewReader(doc))
	injected := false
	skipping := false

	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			break
		}

		if skipping {
			if tt == xhtml.EndTagToken {
				if name, _ := z.TagName(); string(name) == "script" {
					skipping = false
				}
			}
			continue
		}

		raw := z.Raw()
		if tt != xhtml.StartTagToken {
			out.Write(raw)
			continue
		}

		name, more := z.TagName()
		tag := string(name)
		if tag == "head" {
			out.Write(raw)
			if !injected {
				out.Write(tags)
				injected = true
			}
			continue
		}
		if tag != "script" {
			out.Write(raw)
			continue
		}

		attrs := readAttrs(z, more)
		typ, _ := get(attrs, "type")
		switch {
		case typ == "importmap":
			skipping = true
		case typ == "module":
			src, _ := get(attrs, "src")
			if to, ok := opts.Rewrite[src]; ok {
				writeScriptTag(&out, attrs, to)
			} else {
				out.Write(raw)
			}
		default:
			out.Write(raw)
		}
	}

	if !injected {
		return append(tags, out.Bytes()...), nil
	}
	return out.Bytes(), nil
}

func writeScriptTag(w *bytes.Buffer, attrs []attr, src string) {
	w.WriteString("<script")
	for _, a := range attrs {
		val := a.val
		if a.key == "src" {
			val = src
		}
		w.WriteByte(' ')
		w.WriteString(a.key)
		if val != "" || a.key == "src" {
			fmt.Fprintf(w, `="%s"`, html.EscapeString(val))
		}
	}
	w.WriteByte('>')
}
