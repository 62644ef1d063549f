package log

import (
	"context"
	"log/slog"
	"sync"
)

// Entry is one call captured by a Recorder. Fields holds the With() fields
// followed by the call's own key/value pairs.
type Entry struct {
	Level  slog.Level
	Msg    string
	Err    error
	Fields []any
}

// Field returns the last value logged under key.
func (e Entry) Field(key string) (any, bool) {
	var (
		v     any
		found bool
	)
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if k, ok := e.Fields[i].(string); ok && k == key {
			v, found = e.Fields[i+1], true
		}
	}
	return v, found
}

type recorderSink struct {
	mu      sync.Mutex
	entries []Entry
}

// Recorder is a Logger that keeps every entry in memory. Loggers derived
// with With share the same entry list.
type Recorder struct {
	sink   *recorderSink
	fields []any
}

func NewRecorder() *Recorder { return &Recorder{sink: &recorderSink{}} }

func (r *Recorder) With(kv ...any) Logger {
	fields := make([]any, 0, len(r.fields)+len(kv))
	fields = append(fields, r.fields...)
	fields = append(fields, kv...)
	return &Recorder{sink: r.sink, fields: fields}
}

func (r *Recorder) Debug(_ context.Context, msg string, kv ...any) {
	r.add(slog.LevelDebug, nil, msg, kv)
}

func (r *Recorder) Info(_ context.Context, msg string, kv ...any) {
	r.add(slog.LevelInfo, nil, msg, kv)
}

func (r *Recorder) Warn(_ context.Context, msg string, kv ...any) {
	r.add(slog.LevelWarn, nil, msg, kv)
}

func (r *Recorder) Error(_ context.Context, err error, msg string, kv ...any) {
	r.add(slog.LevelError, err, msg, kv)
}

func (r *Recorder) Sync() error { return nil }

func (r *Recorder) add(lvl slog.Level, err error, msg string, kv []any) {
	fields := make([]any, 0, len(r.fields)+len(kv))
	fields = append(fields, r.fields...)
	fields = append(fields, kv...)

	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = append(r.sink.entries, Entry{Level: lvl, Msg: msg, Err: err, Fields: fields})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := make([]Entry, len(r.sink.entries))
	copy(out, r.sink.entries)
	return out
}

// Level returns the recorded entries at exactly lvl.
func (r *Recorder) Level(lvl slog.Level) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Level == lvl {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = nil
}
