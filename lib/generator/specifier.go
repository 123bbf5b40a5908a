package generator

import (
	"strings"
)

// Package identifies a bare specifier split into its npm coordinates.
type Package struct {
	Name       string
	Constraint string
	// Subpath is "." for the package root, otherwise "./rest".
	Subpath string
}

// Key is the import map key for the package, without any version.
func (p Package) Key() string {
	if p.Subpath == "." {
		return p.Name
	}
	return p.Name + "/" + strings.TrimPrefix(p.Subpath, "./")
}

// MapKey is the import map key for the specifier as written, so
// "react@17.0.2" and "react@18.2.0" stay distinct from "react".
func (p Package) MapKey() string {
	if p.Constraint == "" {
		return p.Key()
	}
	key := p.Name + "@" + p.Constraint
	if p.Subpath != "." {
		key += "/" + strings.TrimPrefix(p.Subpath, "./")
	}
	return key
}

// ParseSpecifier splits "react-dom/client", "@scope/pkg@^1/x" and friends.
func ParseSpecifier(specifier string) (Package, bool) {
	if specifier == "" || strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") {
		return Package{}, false
	}

	parts := strings.Split(specifier, "/")
	nameParts := 1
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return Package{}, false
		}
		nameParts = 2
	}

	name := strings.Join(parts[:nameParts], "/")
	rest := parts[nameParts:]

	constraint := ""
	offset := 0
	if strings.HasPrefix(name, "@") {
		offset = 1
	}
	if i := strings.LastIndex(name, "@"); i > offset {
		name, constraint = name[:i], name[i+1:]
	}

	if name == "" || strings.HasSuffix(name, "/") {
		return Package{}, false
	}

	subpath := "."
	if len(rest) > 0 && strings.Join(rest, "/") != "" {
		subpath = "./" + strings.Join(rest, "/")
	}

	return Package{Name: name, Constraint: constraint, Subpath: subpath}, true
}

// splitNameVersion splits "name@1.2.3/rest" or "@scope/name@1.2.3/rest" as
// found in CDN URLs.
func splitNameVersion(s string) (name, version, rest string, ok bool) {
	offset := 0
	if strings.HasPrefix(s, "@") {
		slash := strings.IndexByte(s, '/')
		if slash < 0 {
			return "", "", "", false
		}
		offset = slash + 1
	}

	at := strings.IndexByte(s[offset:], '@')
	if at < 0 {
		return "", "", "", false
	}
	at += offset
	name = s[:at]

	tail := s[at+1:]
	if i := strings.IndexAny(tail, "/?"); i >= 0 {
		version, rest = tail[:i], tail[i:]
	} else {
		version = tail
	}
	if version == "" {
		return "", "", "", false
	}
	return name, version, rest, true
}
