package resolver

import (
	"fmt"

	"micromachine.dev/esbuild-jspm/lib/generator"
)

var (
	// ErrUnresolvableSpecifier means the registry has no matching package or version.
	ErrUnresolvableSpecifier = generator.ErrUnresolvable
	// ErrNetwork means the registry or CDN could not be reached.
	ErrNetwork = generator.ErrNetwork
	// ErrInvalidInputMap means a pre-supplied import map was rejected.
	ErrInvalidInputMap = generator.ErrInvalidInputMap
)

// ResolutionFailure names the specifier whose installation failed.
type ResolutionFailure struct {
	Specifier string
	Err       error
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("could not resolve %q: %v", e.Specifier, e.Err)
}

func (e *ResolutionFailure) Unwrap() error { return e.Err }
