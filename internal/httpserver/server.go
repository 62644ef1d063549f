// Package httpserver assembles the public API handler and owns its listener.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/reqguard"
	"github.com/permittrack/permit-api/internal/xerrors"
)

const (
	RequestIDHeader = "X-Request-Id"
	TraceIDHeader   = "X-Trace-Id"
	SpanIDHeader    = "X-Span-Id"

	defaultShutdownTimeout = 15 * time.Second
)

// NewHandler builds the public handler. Outermost first:
//
//	SecurityHeaders, Recover, RequestID, ClientIP, RateLimit, otelhttp,
//	TraceResponseHeaders, Metrics, WithLogger, then the router with
//	Compress, AnnotateHTTPRoute, AccessLog, Guard, MaxBody and the routes.
//
// main owns the *http.Server so it can drain on shutdown.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = reqguard.DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	// renames the server span after the matched chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	if opts.Guard != nil {
		r.Use(opts.Guard)
	}
	r.Use(httpmw.MaxBody(maxBody))

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = httpjson.Error(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = httpjson.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var recoverMW Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}
	otelMW := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				// AnnotateHTTPRoute renames once the route is known
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}

	// nil entries (disabled layers) are skipped
	return httpmw.Chain(r,
		// first so every response, including 429 and 500, carries them
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID(RequestIDHeader),
		// the rate limiter keys on the resolved client address
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		opts.RateLimitMW,
		otelMW,
		httpmw.TraceResponseHeaders(TraceIDHeader, SpanIDHeader),
		opts.MetricsMW,
		httpmw.WithLogger(L),
	)
}

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves NewHandler(opts) and returns an idempotent stop that drains
// in-flight requests for up to ShutdownTimeout.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen addr=%s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server draining", "timeout", timeout.String())
			c, cancel := context.WithTimeout(sctx, timeout)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
