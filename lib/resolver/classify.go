package resolver

import (
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

type Classification int

const (
	LocalPassThrough Classification = iota
	CandidateForResolution
)

func (c Classification) String() string {
	if c == CandidateForResolution {
		return "candidate"
	}
	return "pass-through"
}

// Decision is the outcome of Classify. Target is already known when the
// specifier is a URL or a relative import inside a remote module; such
// candidates never reach the registry.
type Decision struct {
	Class  Classification
	Target string
}

func (d Decision) Resolved() bool {
	return d.Class == CandidateForResolution && d.Target != ""
}

var (
	passThroughExtensions = []string{
		".css", ".scss", ".sass", ".less", ".styl",
		".html", ".htm", ".svg", ".xml",
	}
	internalPrefixes = []string{"\x00", "vite/", "esbuild:", "virtual:", "data:", "node:", "file:"}
	windowsAbsRe     = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

func isRemote(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func isRelative(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}

// Classify decides whether specifier, imported from importer, needs remote
// resolution.
func Classify(specifier, importer string) Decision {
	if isRemote(importer) && isRelative(specifier) {
		base, err := url.Parse(importer)
		if err == nil {
			if ref, err := url.Parse(specifier); err == nil {
				return Decision{Class: CandidateForResolution, Target: base.ResolveReference(ref).String()}
			}
		}
		return Decision{Class: LocalPassThrough}
	}

	if isRemote(specifier) {
		return Decision{Class: CandidateForResolution, Target: specifier}
	}

	if specifier == "" || strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") ||
		filepath.IsAbs(specifier) || windowsAbsRe.MatchString(specifier) {
		return Decision{Class: LocalPassThrough}
	}

	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(specifier, prefix) {
			return Decision{Class: LocalPassThrough}
		}
	}

	ext := strings.ToLower(filepath.Ext(strings.SplitN(specifier, "?", 2)[0]))
	if slices.Contains(passThroughExtensions, ext) {
		return Decision{Class: LocalPassThrough}
	}

	return Decision{Class: CandidateForResolution}
}
