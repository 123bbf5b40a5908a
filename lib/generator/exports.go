package generator

import (
	"path"
	"slices"
	"strings"
)

// PackageJSON is the part of a package.json the providers need to find
// entry points.
type PackageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Main    string `json:"main,omitempty"`
	Module  string `json:"module,omitempty"`
	Browser any    `json:"browser,omitempty"`
	Exports any    `json:"exports,omitempty"`
}

// fallbackConditions are tried after the configured env conditions.
var fallbackConditions = []string{"import", "module", "browser", "default"}

func conditionOrder(conditions []string) []string {
	out := make([]string, 0, len(conditions)+len(fallbackConditions))
	for _, c := range append(slices.Clone(conditions), fallbackConditions...) {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// ResolveEntry maps subpath ("." or "./x") to a file inside the package.
func (p *PackageJSON) ResolveEntry(subpath string, conditions []string) (string, bool) {
	order := conditionOrder(conditions)

	if p.Exports != nil {
		target, ok := resolveExports(p.Exports, subpath, order)
		if !ok {
			return "", false
		}
		return cleanRelative(target), true
	}

	if subpath != "." {
		return cleanRelative(subpath), true
	}

	if p.Module != "" {
		return cleanRelative(p.Module), true
	}
	if b, ok := p.Browser.(string); ok && b != "" {
		return cleanRelative(b), true
	}
	if p.Main != "" {
		return cleanRelative(p.Main), true
	}
	return "./index.js", true
}

// Subpaths lists the exact (non-pattern) subpaths declared in exports.
func (p *PackageJSON) Subpaths() []string {
	m, ok := p.Exports.(map[string]any)
	if !ok || !isSubpathMap(m) {
		return nil
	}
	var out []string
	for key := range m {
		if key == "." || key == "./package.json" || strings.Contains(key, "*") || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

func isSubpathMap(m map[string]any) bool {
	for key := range m {
		if strings.HasPrefix(key, ".") {
			return true
		}
	}
	return false
}

func resolveExports(exports any, subpath string, conditions []string) (string, bool) {
	switch e := exports.(type) {
	case string:
		if subpath == "." {
			return e, true
		}
		return "", false
	case []any:
		if subpath == "." {
			return resolveTarget(e, conditions, "")
		}
		return "", false
	case map[string]any:
		if !isSubpathMap(e) {
			if subpath == "." {
				return resolveTarget(e, conditions, "")
			}
			return "", false
		}

		if target, ok := e[subpath]; ok {
			return resolveTarget(target, conditions, "")
		}

		// "./features/*" style patterns, longest prefix first
		best, bestPrefix := "", ""
		for key := range e {
			star := strings.IndexByte(key, '*')
			if star < 0 {
				continue
			}
			prefix, suffix := key[:star], key[star+1:]
			if strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) &&
				len(subpath) >= len(prefix)+len(suffix) && len(prefix) > len(bestPrefix) {
				bestPrefix = prefix
				best = key
			}
		}
		if best != "" {
			star := strings.IndexByte(best, '*')
			match := subpath[star : len(subpath)-len(best[star+1:])]
			return resolveTarget(e[best], conditions, match)
		}
		return "", false
	}
	return "", false
}

func resolveTarget(target any, conditions []string, match string) (string, bool) {
	switch t := target.(type) {
	case string:
		return strings.ReplaceAll(t, "*", match), true
	case []any:
		for _, alt := range t {
			if out, ok := resolveTarget(alt, conditions, match); ok {
				return out, true
			}
		}
	case map[string]any:
		for _, cond := range conditions {
			if next, ok := t[cond]; ok {
				if out, ok := resolveTarget(next, conditions, match); ok {
					return out, true
				}
			}
		}
	}
	return "", false
}

func cleanRelative(p string) string {
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "./"))
	return "." + cleaned
}
