package opshttp

import (
	"net/http"

	"github.com/permittrack/permit-api/internal/health"
)

// Options configures the admin listener. Zero values are usable.
type Options struct {
	// Port defaults to 9000.
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs for each panic recovered on the admin port.
	OnPanic func()
	// AllowPublic disables the non-public peer check (tests, sidecars on a
	// public bridge network).
	AllowPublic bool
}
