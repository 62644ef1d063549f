package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/permittrack/permit-api/internal/auditarchive"
	"github.com/permittrack/permit-api/internal/cfg"
	"github.com/permittrack/permit-api/internal/health"
	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/httpserver"
	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/metrics"
	"github.com/permittrack/permit-api/internal/opshttp"
	"github.com/permittrack/permit-api/internal/otelx"
	"github.com/permittrack/permit-api/internal/permits"
	"github.com/permittrack/permit-api/internal/prof"
	"github.com/permittrack/permit-api/internal/ratelimit"
	"github.com/permittrack/permit-api/internal/reqguard"
	v "github.com/permittrack/permit-api/internal/version"
)

// drainPeriod is how long readiness fails before listeners close, so the
// load balancer stops routing to this instance first.
const drainPeriod = 20 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// .env first so FillFromEnv sees it; real env vars still win
	if err := cfg.LoadEnvFile(conf.EnvFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"ratelimit_rps", conf.RateLimitRPS,
		"ratelimit_burst", conf.RateLimitBurst,
		"audit_s3_bucket", conf.AuditS3Bucket,
		"audit_s3_prefix", conf.AuditS3Prefix,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnState: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	hooks := []reqguard.Hook{reqguard.MetricsHook(m)}

	// archive runs on its own context so it can flush after the listeners close
	archiveCtx, stopArchive := context.WithCancel(log.WithContext(context.Background(), L))
	defer stopArchive()
	archiveDone := make(chan struct{})
	if conf.ArchiveEnabled() {
		s3Client, err := auditarchive.NewS3Client(ctx, nil)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config for audit archive")
			os.Exit(1)
		}
		archiver, err := auditarchive.New(auditarchive.Options{
			Logger:        L.With("component", "auditarchive"),
			Client:        s3Client,
			Bucket:        conf.AuditS3Bucket,
			Prefix:        conf.AuditS3Prefix,
			FlushInterval: conf.AuditFlushInterval,
			Metrics:       m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create audit archive")
			os.Exit(1)
		}
		hooks = append(hooks, archiver.Record)
		go func() {
			defer close(archiveDone)
			archiver.Run(archiveCtx)
		}()
	} else {
		close(archiveDone)
		L.Info(ctx, "audit archive disabled, rejections are logged only")
	}

	guard := reqguard.New(reqguard.WithHooks(hooks...))
	api := permits.NewAPI(permits.NewMemStore())

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// once per client until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
		}),
	)

	var gate health.Gate

	apiStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		RateLimitMW:  limiter.Middleware,
		MetricsMW:    m.Middleware,
		Guard:        guard.Middleware,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiStop(context.Background()) }()

	// public peers are rejected in middleware in case the admin port is ever exposed
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   &gate,
		OnPanic:     m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()
	bg := log.WithContext(context.Background(), L)
	L.Info(bg, "shutdown signal received")

	gate.Drain("draining")
	L.Info(bg, "readiness gate closed, waiting for load balancer to drain", "period", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 30*time.Second)
	defer cancel()

	if err := apiStop(shutdownCtx); err != nil {
		L.Error(bg, err, "api http server shutdown")
	}
	// no more decisions can arrive once the api listener is closed
	stopArchive()
	select {
	case <-archiveDone:
	case <-shutdownCtx.Done():
		L.Warn(bg, "audit archive did not finish before shutdown deadline")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
