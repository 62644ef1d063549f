package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/permittrack/permit-api/internal/health"
	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/version"
)

// get serves path from a loopback peer; httptest's default peer is public.
func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_HealthEndpoints(t *testing.T) {
	var gate health.Gate
	h := NewHandler(log.Nop(), Options{
		Health:    health.Fixed(true, ""),
		Readiness: &gate,
	})

	if rec := get(h, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("/-/healthy = %d", rec.Code)
	}
	if rec := get(h, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("/-/ready = %d", rec.Code)
	}

	gate.Drain("")
	rec := get(h, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/-/ready while draining = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec := get(h, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("liveness should not follow the drain gate, got %d", rec.Code)
	}
}

func TestNewHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "permit_api_up 1\n")
	})
	h := NewHandler(log.Nop(), Options{Metrics: metrics})

	rec := get(h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "permit_api_up") {
		t.Fatalf("/metrics = %d %q", rec.Code, rec.Body.String())
	}

	if rec := get(NewHandler(log.Nop(), Options{}), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("/metrics without handler = %d, want 404", rec.Code)
	}
}

func TestNewHandler_Version(t *testing.T) {
	rec := get(NewHandler(log.Nop(), Options{}), "/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("/version = %d", rec.Code)
	}
	var vi version.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &vi); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vi.App != version.AppName {
		t.Fatalf("app = %q", vi.App)
	}
}

func TestNewHandler_Pprof(t *testing.T) {
	if rec := get(NewHandler(log.Nop(), Options{EnablePprof: true}), "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled = %d, want 200", rec.Code)
	}
	if rec := get(NewHandler(log.Nop(), Options{}), "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", rec.Code)
	}
}

func TestNewHandler_RejectsPublicPeer(t *testing.T) {
	rec := log.NewRecorder()
	h := NewHandler(rec, Options{})

	req := httptest.NewRequest(http.MethodGet, "/-/healthy", nil)
	req.RemoteAddr = "8.8.8.8:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("public peer = %d, want 403", w.Code)
	}
	if n := len(rec.Level(slog.LevelWarn)); n != 1 {
		t.Fatalf("warn entries = %d, want 1", n)
	}

	open := NewHandler(log.Nop(), Options{AllowPublic: true})
	w = httptest.NewRecorder()
	open.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("AllowPublic = %d, want 200", w.Code)
	}
}

func TestNewHandler_RecoversPanic(t *testing.T) {
	var panics atomic.Int32
	h := NewHandler(log.Nop(), Options{
		Health: health.CheckFunc(func(context.Context) error { panic("probe exploded") }),
		OnPanic: func() {
			panics.Add(1)
		},
	})

	rec := get(h, "/-/healthy")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics.Load() != 1 {
		t.Fatalf("OnPanic calls = %d", panics.Load())
	}
}

func TestNonPublicPeer(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1":          true,
		"[::1]:1":              true,
		"10.1.2.3:1":           true,
		"172.16.0.9:1":         true,
		"192.168.1.1:1":        true,
		"169.254.1.1:1":        true,
		"[fd00::1]:1":          true,
		"[::ffff:10.0.0.1]:1":  true,
		"8.8.8.8:1":            false,
		"203.0.113.1:1":        false,
		"[::ffff:8.8.8.8]:1":   false,
		"999.999.999.999:1":    false,
		"not-an-address":       false,
		"":                     false,
		"[2001:4860::8888]:53": false,
	}
	for addr, want := range cases {
		if got := nonPublicPeer(addr); got != want {
			t.Errorf("nonPublicPeer(%q) = %v, want %v", addr, got, want)
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestStart_ServesAndStops(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)); err == nil {
		t.Fatal("server still answering after stop")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Start(context.Background(), log.Nop(), Options{Port: ln.Addr().(*net.TCPAddr).Port})
	if err == nil {
		t.Fatal("Start should fail on a taken port")
	}
}
