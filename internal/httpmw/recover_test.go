package httpmw

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/permittrack/permit-api/internal/log"
)

func panicking(v any) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(v) })
}

func TestRecover_NoPanic(t *testing.T) {
	rec := log.NewRecorder()
	w := do(Recover(rec, nil)(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || len(rec.Entries()) != 0 {
		t.Fatalf("status = %d, entries = %d", w.Code, len(rec.Entries()))
	}
}

func TestRecover_Panics(t *testing.T) {
	for name, v := range map[string]any{
		"string": "something broke",
		"error":  errors.New("nil map write"),
		"int":    42,
	} {
		t.Run(name, func(t *testing.T) {
			rec := log.NewRecorder()
			var panics int
			h := Recover(rec, func() { panics++ })(panicking(v))

			r := httptest.NewRequest(http.MethodPost, "/permits", nil)
			r = r.WithContext(WithRequestID(r.Context(), "rid-1"))
			w := do(h, r)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", w.Code)
			}
			if got := strings.TrimSpace(w.Body.String()); got != `{"error":"Internal server error"}` {
				t.Fatalf("body = %s", got)
			}
			if panics != 1 {
				t.Fatalf("onPanic calls = %d", panics)
			}
			errs := rec.Level(slog.LevelError)
			if len(errs) != 1 {
				t.Fatalf("error entries = %d", len(errs))
			}
			e := errs[0]
			if e.Msg != "httpserver panic recovered" || e.Err == nil {
				t.Fatalf("entry = %+v", e)
			}
			if got, _ := e.Field("url.path"); got != "/permits" {
				t.Errorf("url.path = %v", got)
			}
			if got, _ := e.Field("request_id"); got != "rid-1" {
				t.Errorf("request_id = %v", got)
			}
		})
	}
}

func TestRecover_WrapsErrorPanic(t *testing.T) {
	rec := log.NewRecorder()
	cause := errors.New("boom")
	do(Recover(rec, nil)(panicking(cause)), httptest.NewRequest(http.MethodGet, "/", nil))
	if err := rec.Entries()[0].Err; !errors.Is(err, cause) {
		t.Fatalf("logged err %v does not wrap the panic value", err)
	}
}

func TestRecover_ReraisesAbortHandler(t *testing.T) {
	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", v)
		}
	}()
	do(Recover(nil, nil)(panicking(http.ErrAbortHandler)), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("ErrAbortHandler should propagate")
}
