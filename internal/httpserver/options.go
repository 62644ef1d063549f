package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
)

// Middleware is the shape every optional layer takes.
type Middleware = func(http.Handler) http.Handler

type Options struct {
	Logger log.Logger
	// Port defaults to 8080.
	Port int

	UseRecoverMW bool
	// OnPanic runs for each recovered panic (the panic counter).
	OnPanic func()

	ClientIPOpts httpmw.ClientIPOptions
	RateLimitMW  Middleware
	MetricsMW    Middleware

	// Guard is the request validation pipeline. It runs inside the router,
	// after the access log and before any body is read.
	Guard Middleware
	// MaxBodyBytes caps body reads behind the guard; 0 means the guard's
	// 2 MiB ceiling.
	MaxBodyBytes int64

	// APIRoutes registers the service routes.
	APIRoutes func(chi.Router)

	// ShutdownTimeout bounds the drain of in-flight requests; 0 means 15s.
	ShutdownTimeout time.Duration
}
