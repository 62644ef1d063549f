// Package opshttp is the admin listener: metrics, health, build info and
// optional pprof, kept off the public port.
package opshttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/permittrack/permit-api/internal/health"
	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/version"
	"github.com/permittrack/permit-api/internal/xerrors"
)

const defaultPort = 9000

// NewHandler builds the admin mux:
//
//	/metrics     prometheus exposition (when Metrics is set)
//	/-/healthy   liveness
//	/-/ready     readiness
//	/version     build info
//	/debug/pprof when EnablePprof, otherwise 404
func NewHandler(L log.Logger, opts Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_ = httpjson.Write(w, http.StatusOK, version.Get())
	})
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}

	var netguard func(http.Handler) http.Handler
	if !opts.AllowPublic {
		netguard = func(next http.Handler) http.Handler { return requireNonPublicNetwork(L, next) }
	}
	// no trusted proxies here, forwarding headers are dropped
	return httpmw.Chain(mux,
		httpmw.Recover(L, opts.OnPanic),
		httpmw.ClientIP,
		httpmw.WithLogger(L.With("listener", "admin")),
		netguard,
	)
}

// Start serves NewHandler on the admin port and returns an idempotent stop.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// profile/trace endpoints stream for up to 30s by default
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen admin addr=%s", addr)
	}

	go func() {
		L.Info(ctx, "admin http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "admin http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "admin http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
