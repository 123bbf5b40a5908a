package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
)

// State is where a specifier stands in the current cycle.
type State int

const (
	Unseen State = iota
	Pending
	Resolved
	PassThrough
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case PassThrough:
		return "pass-through"
	case Failed:
		return "failed"
	default:
		return "unseen"
	}
}

// Generator is the remote dependency generator the coordinator drives.
type Generator interface {
	Install(ctx context.Context, specifier string) error
	Resolve(specifier, parentURL string) (string, bool)
	Map() *importmap.ImportMap
	Reset()
}

// Options configure a Coordinator.
type Options struct {
	Logger *slog.Logger
	// Context is the parent of every install. Cancelling a resolve request
	// never cancels the install it waits on; cancelling this context does.
	Context context.Context
}

// Stats counts the specifiers seen in the current cycle.
type Stats struct {
	Resolved    int
	Pending     int
	Failed      int
	PassThrough int
	Installs    int
}

type entry struct {
	specifier string
	state     State
	target    string
	err       error
	done      chan struct{}
}

// Coordinator tracks which bare specifiers of a build cycle are resolved,
// which are being installed and which failed. One Coordinator serves one
// build or dev server for its whole life; FinalizeCycle marks the end of
// each cycle.
type Coordinator struct {
	gen     Generator
	logger  *slog.Logger
	baseCtx context.Context

	mu          sync.Mutex
	entries     map[string]*entry
	pending     []*entry
	passThrough map[string]struct{}
	installs    int
}

func New(gen Generator, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	return &Coordinator{
		gen:         gen,
		logger:      logger,
		baseCtx:     ctx,
		entries:     map[string]*entry{},
		passThrough: map[string]struct{}{},
	}
}

// Classify is the package level Classify that also records pass-through
// specifiers for State and Stats.
func (c *Coordinator) Classify(specifier, importer string) Decision {
	d := Classify(specifier, importer)
	if d.Class == LocalPassThrough {
		c.mu.Lock()
		c.passThrough[specifier] = struct{}{}
		c.mu.Unlock()
	}
	return d
}

// ResolveOrInstall returns the URL specifier maps to, installing it first
// when neither this cycle nor the generator knows it. Concurrent calls for
// the same specifier share one install.
func (c *Coordinator) ResolveOrInstall(ctx context.Context, specifier, parent string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[specifier]; ok {
		c.mu.Unlock()
		target, err := c.await(ctx, e)
		if err != nil {
			return "", err
		}
		return c.scoped(specifier, parent, target), nil
	}

	if target, ok := c.gen.Resolve(specifier, parent); ok {
		c.entries[specifier] = settled(specifier, target)
		c.mu.Unlock()
		return target, nil
	}

	e := &entry{specifier: specifier, state: Pending, done: make(chan struct{})}
	c.entries[specifier] = e
	c.pending = append(c.pending, e)
	c.installs++
	c.mu.Unlock()

	c.logger.Debug("installing", "specifier", specifier)
	go c.install(e, parent)

	return c.await(ctx, e)
}

// scoped prefers the mapping the generator holds for parent's scope over the
// first target recorded for specifier this cycle.
func (c *Coordinator) scoped(specifier, parent, target string) string {
	if parent == "" {
		return target
	}
	if t, ok := c.gen.Resolve(specifier, parent); ok {
		return t
	}
	return target
}

func settled(specifier, target string) *entry {
	done := make(chan struct{})
	close(done)
	return &entry{specifier: specifier, state: Resolved, target: target, done: done}
}

func (c *Coordinator) install(e *entry, parent string) {
	err := c.gen.Install(c.baseCtx, e.specifier)

	var target string
	if err == nil {
		var ok bool
		if target, ok = c.gen.Resolve(e.specifier, parent); !ok {
			err = fmt.Errorf("%w: %q missing from the import map after install", ErrUnresolvableSpecifier, e.specifier)
		}
	}

	c.mu.Lock()
	if err != nil {
		e.state = Failed
		e.err = &ResolutionFailure{Specifier: e.specifier, Err: err}
	} else {
		e.state = Resolved
		e.target = target
	}
	c.mu.Unlock()
	close(e.done)

	if err != nil {
		c.logger.Debug("install failed", "specifier", e.specifier, "error", err)
	} else {
		c.logger.Debug("installed", "specifier", e.specifier, "target", target)
	}
}

func (c *Coordinator) await(ctx context.Context, e *entry) (string, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	return e.target, nil
}

// Drain waits for every install started in this cycle, including installs
// started while draining, and returns all of their failures joined.
func (c *Coordinator) Drain(ctx context.Context) error {
	var errs []error
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		if len(batch) == 0 {
			return errors.Join(errs...)
		}

		for i, e := range batch {
			select {
			case <-e.done:
			case <-ctx.Done():
				c.mu.Lock()
				c.pending = append(batch[i:], c.pending...)
				c.mu.Unlock()
				return ctx.Err()
			}
			if e.err != nil {
				errs = append(errs, e.err)
			}
		}
	}
}

// FinalizeCycle drains pending installs, snapshots the generator's import
// map and resets the cycle. The snapshot is returned along with any install
// failures so callers can still emit a partial map.
func (c *Coordinator) FinalizeCycle(ctx context.Context) (*importmap.ImportMap, error) {
	drainErr := c.Drain(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	snapshot := c.gen.Map().Clone()
	c.Reset()

	return snapshot, drainErr
}

// Reset starts a new cycle. The generator forgets its per-cycle installs
// but keeps the input map.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = map[string]*entry{}
	c.pending = nil
	c.passThrough = map[string]struct{}{}
	c.gen.Reset()
}

func (c *Coordinator) State(specifier string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[specifier]; ok {
		return e.state
	}
	if _, ok := c.passThrough[specifier]; ok {
		return PassThrough
	}
	return Unseen
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{PassThrough: len(c.passThrough), Installs: c.installs}
	for _, e := range c.entries {
		switch e.state {
		case Resolved:
			s.Resolved++
		case Pending:
			s.Pending++
		case Failed:
			s.Failed++
		}
	}
	return s
}
