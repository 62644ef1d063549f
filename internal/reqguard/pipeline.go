package reqguard

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
)

const tracerName = "permit-api/reqguard"

// Pipeline runs the stages in order and owns the terminal response and audit
// entry for each request.
type Pipeline struct {
	cfg    Config
	stages []Stage
	logger log.Logger
	hooks  []Hook
	tracer trace.Tracer
	now    func() time.Time

	responder Responder
	auditor   *Auditor
}

type Option func(*Pipeline)

// WithConfig replaces DefaultConfig. Ignored when WithStages is also given.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithStages replaces DefaultStages(cfg).
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) { p.stages = stages }
}

// WithLogger pins the audit logger. Without it the request-scoped logger from
// the context is used.
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithHooks appends decision hooks (metrics, archive).
func WithHooks(hooks ...Hook) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, hooks...) }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    DefaultConfig(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.stages == nil {
		p.stages = DefaultStages(p.cfg)
	}
	p.responder = Responder{logger: p.loggerFor}
	p.auditor = &Auditor{logger: p.loggerFor, hooks: p.hooks}
	return p
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) loggerFor(ctx context.Context) log.Logger {
	if p.logger == nil {
		return log.FromContext(ctx)
	}
	if id := httpmw.RequestIDFromContext(ctx); id != "" {
		return p.logger.With("request_id", id)
	}
	return p.logger
}

// Verdict is the result of Evaluate. Stage is empty when every stage continued.
type Verdict struct {
	Facts  Facts
	Result Result
	Stage  string
}

// Evaluate runs the stages without writing or logging anything.
func (p *Pipeline) Evaluate(r *http.Request) Verdict {
	f := FactsFromRequest(r)
	for _, s := range p.stages {
		if res := s.Evaluate(r, f); res.Rejected() {
			return Verdict{Facts: f, Result: res, Stage: s.Name()}
		}
	}
	return Verdict{Facts: f, Result: Continue()}
}

// Middleware guards next. A rejected request never reaches next; a passing
// request is forwarded as received.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w == nil || r == nil || r.URL == nil {
			ctx := context.Background()
			if r != nil {
				ctx = r.Context()
			}
			p.loggerFor(ctx).Debug(ctx, "request guard skipped for non-http exchange")
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := p.tracer.Start(r.Context(), "reqguard.evaluate")
		v := p.Evaluate(r)
		d := p.decision(ctx, v)
		span.SetAttributes(
			attribute.String("reqguard.outcome", string(d.Outcome)),
			attribute.Int64("reqguard.content_length", v.Facts.ContentLength),
		)
		if v.Result.Rejected() {
			span.SetAttributes(
				attribute.String("reqguard.stage", v.Stage),
				attribute.Int("http.response.status_code", v.Result.Status()),
			)
			span.SetStatus(codes.Error, v.Result.Message())
		}
		span.End()

		p.auditor.Record(ctx, d)
		if v.Result.Rejected() {
			p.responder.Respond(ctx, w, v.Result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) decision(ctx context.Context, v Verdict) Decision {
	d := Decision{
		Time:          p.now().UTC(),
		RequestID:     httpmw.RequestIDFromContext(ctx),
		Outcome:       OutcomePass,
		Method:        v.Facts.Method,
		URI:           v.Facts.URI,
		ContentType:   v.Facts.ContentType,
		ContentLength: v.Facts.ContentLength,
	}
	if v.Result.Rejected() {
		d.Outcome = OutcomeReject
		d.Stage = v.Stage
		d.Status = v.Result.Status()
		d.Kind = v.Result.Kind()
		d.Reason = v.Result.Message()
	}
	return d
}
