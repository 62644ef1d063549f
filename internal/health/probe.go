package health

import (
	"context"
	"sync"

	"github.com/permittrack/permit-api/internal/xerrors"
)

// Probe is checked on every health request. nil means healthy.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" when empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every non-nil probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil probe passes. Otherwise it returns the
// last failure, or an error when there was nothing to check.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return xerrors.New("no healthy probes")
		}
		return last
	}
}

// Gate fails readiness while the service drains. The zero value is open.
type Gate struct {
	mu     sync.RWMutex
	reason string
	closed bool
}

// Drain closes the gate; an empty reason reads as "draining".
func (g *Gate) Drain(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.mu.Lock()
	g.closed, g.reason = true, reason
	g.mu.Unlock()
}

// Resume reopens the gate.
func (g *Gate) Resume() {
	g.mu.Lock()
	g.closed, g.reason = false, ""
	g.mu.Unlock()
}

func (g *Gate) Draining() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Check implements Probe.
func (g *Gate) Check(context.Context) error {
	g.mu.RLock()
	closed, reason := g.closed, g.reason
	g.mu.RUnlock()
	if !closed {
		return nil
	}
	return xerrors.New(reason)
}
