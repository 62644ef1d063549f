package httpmw

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/xerrors"
)

// Recover turns a handler panic into a JSON 500 and an ERROR log. onPanic,
// when set, runs once per recovered panic (the panic counter).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				var err error
				if e, ok := v.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", v)
				}
				ctx := r.Context()
				L.With(
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(ctx, err, "httpserver panic recovered", "panic_stack", string(debug.Stack()))

				if onPanic != nil {
					onPanic()
				}
				_ = httpjson.Error(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
