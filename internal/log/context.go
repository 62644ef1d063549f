package log

import "context"

type ctxKey struct{}

// WithContext returns a child of ctx carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger carried by ctx, or Nop() when there is none.
func FromContext(ctx context.Context) Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return Nop()
}

// Lookup is FromContext that also reports whether a logger was present.
func Lookup(ctx context.Context) (Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	l, ok := ctx.Value(ctxKey{}).(Logger)
	if !ok || l == nil {
		return nil, false
	}
	return l, true
}
