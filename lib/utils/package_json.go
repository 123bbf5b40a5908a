package utils

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

type PackageJSON struct {
	Name             string            `json:"name,omitempty"`
	Version          string            `json:"version,omitempty"`
	Private          bool              `json:"private,omitempty"`
	Type             string            `json:"type,omitempty"` // "module" or "commonjs"
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	DevDependencies  map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
}

// ReadPackageJSON reads root/package.json. A missing file yields an empty
// PackageJSON.
func ReadPackageJSON(root string) (*PackageJSON, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if errors.Is(err, os.ErrNotExist) {
		return &PackageJSON{}, nil
	}
	if err != nil {
		return nil, err
	}

	var p PackageJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *PackageJSON) HasDependency(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	if _, ok := p.DevDependencies[name]; ok {
		return true
	}
	return false
}

// Ranges returns the version range declared for every dependency. Runtime
// dependencies win over peer and dev dependencies.
func (p *PackageJSON) Ranges() map[string]string {
	out := map[string]string{}
	for _, deps := range []map[string]string{p.DevDependencies, p.PeerDependencies, p.Dependencies} {
		for name, rng := range deps {
			out[name] = rng
		}
	}
	return out
}
