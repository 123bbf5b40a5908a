// Package importmap models the browser import map the generator accumulates:
// top-level imports plus URL-prefix scopes.
package importmap

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

type ImportMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

func New() *ImportMap {
	return &ImportMap{
		Imports: map[string]string{},
		Scopes:  map[string]map[string]string{},
	}
}

// Parse decodes a JSON (or JSONC) import map and validates its structure.
func Parse(data []byte) (*ImportMap, error) {
	data = jsonc.ToJSON(data)
	if err := Validate(data); err != nil {
		return nil, err
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m.Imports == nil {
		m.Imports = map[string]string{}
	}
	if m.Scopes == nil {
		m.Scopes = map[string]map[string]string{}
	}
	return m, nil
}

// LoadFile reads and parses an import map from disk.
func LoadFile(path string) (*ImportMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (m *ImportMap) Set(specifier, target string) {
	if m.Imports == nil {
		m.Imports = map[string]string{}
	}
	m.Imports[specifier] = target
}

func (m *ImportMap) SetScoped(scope, specifier, target string) {
	if m.Scopes == nil {
		m.Scopes = map[string]map[string]string{}
	}
	if m.Scopes[scope] == nil {
		m.Scopes[scope] = map[string]string{}
	}
	m.Scopes[scope][specifier] = target
}

// Resolve looks specifier up the way a browser would: the most specific
// scope whose prefix matches parentURL first, then the top-level imports.
func (m *ImportMap) Resolve(specifier, parentURL string) (string, bool) {
	if m == nil {
		return "", false
	}

	if parentURL != "" && len(m.Scopes) > 0 {
		scopes := slices.Collect(maps.Keys(m.Scopes))
		sort.Slice(scopes, func(i, j int) bool { return len(scopes[i]) > len(scopes[j]) })
		for _, scope := range scopes {
			if !strings.HasPrefix(parentURL, scope) {
				continue
			}
			if target, ok := lookup(m.Scopes[scope], specifier); ok {
				return target, true
			}
		}
	}

	return lookup(m.Imports, specifier)
}

// lookup matches exact keys first, then the longest trailing-slash prefix.
func lookup(imports map[string]string, specifier string) (string, bool) {
	if target, ok := imports[specifier]; ok {
		return target, true
	}

	best := ""
	for key := range imports {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(specifier, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return imports[best] + specifier[len(best):], true
}

// Clone returns a deep copy.
func (m *ImportMap) Clone() *ImportMap {
	out := New()
	if m == nil {
		return out
	}
	maps.Copy(out.Imports, m.Imports)
	for scope, entries := range m.Scopes {
		out.Scopes[scope] = maps.Clone(entries)
	}
	return out
}

// Merge copies every entry of other into m, overwriting duplicates.
func (m *ImportMap) Merge(other *ImportMap) {
	if other == nil {
		return
	}
	for k, v := range other.Imports {
		m.Set(k, v)
	}
	for scope, entries := range other.Scopes {
		for k, v := range entries {
			m.SetScoped(scope, k, v)
		}
	}
}

func (m *ImportMap) Len() int {
	n := len(m.Imports)
	for _, entries := range m.Scopes {
		n += len(entries)
	}
	return n
}

// MarshalIndent renders the map as it is embedded in the HTML script tag.
func (m *ImportMap) MarshalIndent() ([]byte, error) {
	out := struct {
		Imports map[string]string            `json:"imports"`
		Scopes  map[string]map[string]string `json:"scopes,omitempty"`
	}{Imports: m.Imports, Scopes: m.Scopes}
	if out.Imports == nil {
		out.Imports = map[string]string{}
	}
	return json.MarshalIndent(out, "", "  ")
}
