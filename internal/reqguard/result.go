package reqguard

import (
	"net/http"

	"github.com/permittrack/permit-api/internal/httpjson"
)

// Kind classifies a rejection by the HTTP error it maps to.
type Kind int

const (
	KindNone Kind = iota
	KindMethodNotAllowed
	KindBadRequest
	KindUnsupportedMediaType
	KindPayloadTooLarge
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindBadRequest:
		return "bad_request"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "other"
	}
}

func kindOf(status int) Kind {
	switch status {
	case http.StatusMethodNotAllowed:
		return KindMethodNotAllowed
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnsupportedMediaType:
		return KindUnsupportedMediaType
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge
	default:
		return KindOther
	}
}

type bodyShape uint8

const (
	shapeMessage bodyShape = iota
	shapeError
)

// Result is the tagged outcome of a stage: Continue, or Reject with a status
// and message. The zero value is Continue.
type Result struct {
	rejected bool
	status   int
	message  string
	shape    bodyShape
}

// Continue lets the next stage run.
func Continue() Result { return Result{} }

// Reject stops the pipeline; the body is {"message": msg}.
func Reject(status int, msg string) Result {
	return Result{rejected: true, status: status, message: msg}
}

// RejectError stops the pipeline; the body is {"error": msg}.
func RejectError(status int, msg string) Result {
	return Result{rejected: true, status: status, message: msg, shape: shapeError}
}

func (r Result) Rejected() bool  { return r.rejected }
func (r Result) Status() int     { return r.status }
func (r Result) Message() string { return r.message }

func (r Result) Kind() Kind {
	if !r.rejected {
		return KindNone
	}
	return kindOf(r.status)
}

// Body is the JSON value written for a rejection, nil for Continue.
func (r Result) Body() any {
	if !r.rejected {
		return nil
	}
	if r.shape == shapeError {
		return httpjson.ErrorBody{Error: r.message}
	}
	return httpjson.MessageBody{Message: r.message}
}

// Stage is one ordered rule. Evaluate must not read the body or keep state.
type Stage interface {
	Name() string
	Evaluate(r *http.Request, f Facts) Result
}

// StageFunc adapts a function into a Stage.
func StageFunc(name string, fn func(*http.Request, Facts) Result) Stage {
	return funcStage{name: name, fn: fn}
}

type funcStage struct {
	name string
	fn   func(*http.Request, Facts) Result
}

func (s funcStage) Name() string                             { return s.name }
func (s funcStage) Evaluate(r *http.Request, f Facts) Result { return s.fn(r, f) }
