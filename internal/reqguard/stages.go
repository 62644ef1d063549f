package reqguard

import (
	"fmt"
	"net/http"
	"strings"
)

const jsonMediaType = "application/json"

// DefaultStages returns the fixed stage order for cfg.
func DefaultStages(cfg Config) []Stage {
	return []Stage{
		NewMethodAllowlist(cfg),
		NewBodyPresence(http.MethodGet, http.MethodDelete),
		NewHeaderValidation(http.MethodPost, http.MethodPut),
		NewSizeLimit(cfg.MaxBodyBytes(), http.MethodPost, http.MethodPut),
		HeadBody{},
	}
}

type methodSet []string

func (s methodSet) has(m string) bool {
	for _, v := range s {
		if v == m {
			return true
		}
	}
	return false
}

// MethodAllowlist rejects methods outside the configured set with 405.
type MethodAllowlist struct{ cfg Config }

func NewMethodAllowlist(cfg Config) MethodAllowlist { return MethodAllowlist{cfg: cfg} }

func (MethodAllowlist) Name() string { return "method_allowlist" }

func (s MethodAllowlist) Evaluate(_ *http.Request, f Facts) Result {
	if s.cfg.Allows(f.Method) {
		return Continue()
	}
	return Reject(http.StatusMethodNotAllowed, "HTTP method not allowed: "+f.Method)
}

// BodyPresence rejects a declared body on the given methods. Zero or unknown length passes.
type BodyPresence struct{ methods methodSet }

func NewBodyPresence(methods ...string) BodyPresence { return BodyPresence{methods: methods} }

func (BodyPresence) Name() string { return "body_presence" }

func (s BodyPresence) Evaluate(_ *http.Request, f Facts) Result {
	if !s.methods.has(f.Method) || !f.DeclaresBody() {
		return Continue()
	}
	return Reject(http.StatusBadRequest, "Request body not allowed for "+f.Method+" requests")
}

// HeaderValidation requires Content-Type: application/json (case-insensitive,
// no parameters) and a known Content-Length on the given methods.
type HeaderValidation struct{ methods methodSet }

func NewHeaderValidation(methods ...string) HeaderValidation {
	return HeaderValidation{methods: methods}
}

func (HeaderValidation) Name() string { return "header_validation" }

func (s HeaderValidation) Evaluate(_ *http.Request, f Facts) Result {
	if !s.methods.has(f.Method) {
		return Continue()
	}
	if !f.HasContentType {
		return Reject(http.StatusBadRequest, "Missing Content-Type header")
	}
	if !strings.EqualFold(f.ContentType, jsonMediaType) {
		return RejectError(http.StatusUnsupportedMediaType, "Unsupported media type")
	}
	if !f.LengthKnown() {
		return Reject(http.StatusBadRequest, "Missing or unknown Content-Length header")
	}
	return Continue()
}

// SizeLimit rejects declared lengths above limit. The limit is inclusive.
type SizeLimit struct {
	limit   int64
	methods methodSet
}

func NewSizeLimit(limit int64, methods ...string) SizeLimit {
	return SizeLimit{limit: limit, methods: methods}
}

func (SizeLimit) Name() string { return "size_limit" }

func (s SizeLimit) Evaluate(_ *http.Request, f Facts) Result {
	if !s.methods.has(f.Method) || f.ContentLength <= s.limit {
		return Continue()
	}
	if f.HasContentType && strings.HasPrefix(strings.ToLower(f.ContentType), jsonMediaType) {
		return Reject(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("JSON request payload exceeds %s limit", humanSize(s.limit)))
	}
	// HeaderValidation already turns away non-JSON POST/PUT, so in the default
	// order this is only hit when SizeLimit runs on its own.
	return Reject(http.StatusUnsupportedMediaType,
		fmt.Sprintf("Unsupported media type: only application/json requests are allowed up to %s", humanSize(s.limit)))
}

// HeadBody rejects HEAD requests that declare a body.
type HeadBody struct{}

func (HeadBody) Name() string { return "head_body" }

func (HeadBody) Evaluate(_ *http.Request, f Facts) Result {
	if f.Method != http.MethodHead || !f.DeclaresBody() {
		return Continue()
	}
	return Reject(http.StatusBadRequest, "Request body not allowed for HEAD requests")
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
