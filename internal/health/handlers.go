package health

import (
	"net/http"

	"github.com/permittrack/permit-api/internal/httpjson"
)

// HealthzHandler serves liveness: 200 {"message":"ok"} or 503 with the probe's reason.
func HealthzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ok")
}

// ReadyzHandler serves readiness: 200 {"message":"ready"} or 503 with the probe's reason.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ready")
}

// nil probe is always healthy
func handler(p Probe, okMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				_ = httpjson.Message(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		_ = httpjson.Message(w, http.StatusOK, okMsg)
	}
}
