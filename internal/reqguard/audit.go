package reqguard

import (
	"context"
	"time"

	"github.com/permittrack/permit-api/internal/log"
)

type Outcome string

const (
	OutcomePass   Outcome = "pass"
	OutcomeReject Outcome = "reject"
)

// Decision is the audit record of one evaluation. It is also what hooks
// receive and what the S3 archive serializes.
type Decision struct {
	Time          time.Time `json:"time"`
	RequestID     string    `json:"request_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Stage         string    `json:"stage,omitempty"`
	Status        int       `json:"status,omitempty"`
	Kind          Kind      `json:"kind"`
	Reason        string    `json:"reason,omitempty"`
	Method        string    `json:"method"`
	URI           string    `json:"uri"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int64     `json:"content_length"`
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText accepts the String form; unknown names decode as KindOther.
func (k *Kind) UnmarshalText(b []byte) error {
	for c := KindNone; c < KindOther; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	*k = KindOther
	return nil
}

// Hook observes every decision after it is logged. Hooks run on the request
// goroutine and must not block.
type Hook func(ctx context.Context, d Decision)

// Auditor writes exactly one log entry per decision: WARN for a rejection,
// INFO for a pass.
type Auditor struct {
	logger func(context.Context) log.Logger
	hooks  []Hook
}

func (a *Auditor) Record(ctx context.Context, d Decision) {
	L := a.logger(ctx)
	if d.Outcome == OutcomeReject {
		L.Warn(ctx, "blocked request",
			"method", d.Method,
			"uri", d.URI,
			"content_type", d.ContentType,
			"content_length", d.ContentLength,
			"reason", d.Reason,
			"status", d.Status,
			"stage", d.Stage,
		)
	} else {
		L.Info(ctx, "request passed validation",
			"method", d.Method,
			"uri", d.URI,
			"content_length", d.ContentLength,
		)
	}
	for _, h := range a.hooks {
		h(ctx, d)
	}
}

// DecisionObserver is implemented by metrics.ServerMetrics.
type DecisionObserver interface {
	ObserveGuardDecision(outcome, stage, kind string, declaredBytes int64)
}

// MetricsHook feeds every decision to o.
func MetricsHook(o DecisionObserver) Hook {
	return func(_ context.Context, d Decision) {
		o.ObserveGuardDecision(string(d.Outcome), d.Stage, d.Kind.String(), d.ContentLength)
	}
}
