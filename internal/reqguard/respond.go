package reqguard

import (
	"context"
	"net/http"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/log"
)

// Responder writes the single JSON body for a rejected request.
type Responder struct {
	logger func(context.Context) log.Logger
}

// Respond is a no-op for Continue. A failed write is logged at ERROR and
// dropped, part of the response may already be on the wire.
func (rs Responder) Respond(ctx context.Context, w http.ResponseWriter, res Result) {
	if !res.Rejected() {
		return
	}
	if err := httpjson.Write(w, res.Status(), res.Body()); err != nil {
		L := log.Nop()
		if rs.logger != nil {
			L = rs.logger(ctx)
		}
		L.Error(ctx, err, "write guard response", "status", res.Status())
	}
}
