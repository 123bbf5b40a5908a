package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ResolveVersion picks the version of name to install. An empty constraint
// or a dist-tag name selects the tagged version; otherwise the highest
// published version satisfying the semver range wins, preferring the latest
// tag when it satisfies the range (matching npm).
func (c *Client) ResolveVersion(ctx context.Context, name, constraint string) (string, error) {
	p, err := c.Packument(ctx, name)
	if err != nil {
		return "", err
	}
	return SelectVersion(p, constraint)
}

func SelectVersion(p *Packument, constraint string) (string, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		constraint = "latest"
	}

	if tagged, ok := p.DistTags[constraint]; ok {
		return tagged, nil
	}

	if _, ok := p.Versions[constraint]; ok {
		return constraint, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("invalid version range %q for %s: %w", constraint, p.Name, err)
	}

	if latest, ok := p.DistTags["latest"]; ok {
		if v, err := semver.NewVersion(latest); err == nil && c.Check(v) {
			return latest, nil
		}
	}

	var best *semver.Version
	bestRaw := ""
	for raw := range p.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil || !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}

	if best == nil {
		return "", fmt.Errorf("%w: no version of %s matches %s", ErrNotFound, p.Name, constraint)
	}
	return bestRaw, nil
}

// Manifest returns the manifest of one published version.
func (c *Client) Manifest(ctx context.Context, name, version string) (*VersionManifest, error) {
	p, err := c.Packument(ctx, name)
	if err != nil {
		return nil, err
	}
	m, ok := p.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	return &m, nil
}
