// Package diag captures log records in memory so that an operation can hand
// its caller a snapshot of what happened. Recorder is an slog.Handler: code
// logs through an ordinary *slog.Logger and never knows it is being recorded.
package diag

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultLimit bounds the number of retained entries. Older entries are
// dropped first.
const DefaultLimit = 1000

// Field is one flattened attribute. Grouped keys are joined with dots.
type Field struct {
	Key   string
	Value string
}

// Entry is a captured log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  []Field
}

// String renders the entry as "LEVEL message key=value ...".
func (e Entry) String() string {
	var b strings.Builder

	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	b.WriteString(e.Message)

	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}

	return b.String()
}

// store is shared by a Recorder and every handler derived from it through
// WithAttrs/WithGroup.
type store struct {
	mu      sync.Mutex
	entries []Entry
	limit   int

	// scope is attached to every record handled by any derived handler.
	scope []slog.Attr
}

// Recorder captures records at or above its level and forwards every record
// the next handler accepts. Safe for concurrent use.
type Recorder struct {
	next   slog.Handler
	level  slog.Leveler
	fields []Field
	prefix string
	store  *store
}

// NewRecorder creates a Recorder capturing records at level and above.
// next may be nil, in which case records are only captured. A nil level
// captures Info and above.
func NewRecorder(next slog.Handler, level slog.Leveler) *Recorder {
	if level == nil {
		level = slog.LevelInfo
	}

	return &Recorder{
		next:  next,
		level: level,
		store: &store{limit: DefaultLimit},
	}
}

// Enabled implements slog.Handler.
func (r *Recorder) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= r.level.Level() {
		return true
	}

	return r.next != nil && r.next.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (r *Recorder) Handle(ctx context.Context, rec slog.Record) error {
	scope := r.store.currentScope()

	if rec.Level >= r.level.Level() {
		e := Entry{
			Time:    rec.Time,
			Level:   rec.Level,
			Message: rec.Message,
			Fields:  append([]Field(nil), r.fields...),
		}

		rec.Attrs(func(a slog.Attr) bool {
			e.Fields = appendAttr(e.Fields, r.prefix, a)
			return true
		})

		// Scope attributes are never grouped.
		for _, a := range scope {
			e.Fields = appendAttr(e.Fields, "", a)
		}

		r.store.add(e)
	}

	if r.next != nil && r.next.Enabled(ctx, rec.Level) {
		if len(scope) > 0 {
			rec = rec.Clone()
			rec.AddAttrs(scope...)
		}

		return r.next.Handle(ctx, rec)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return r
	}

	c := r.clone()
	for _, a := range attrs {
		c.fields = appendAttr(c.fields, c.prefix, a)
	}

	if r.next != nil {
		c.next = r.next.WithAttrs(attrs)
	}

	return c
}

// WithGroup implements slog.Handler.
func (r *Recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}

	c := r.clone()
	c.prefix = r.prefix + name + "."

	if r.next != nil {
		c.next = r.next.WithGroup(name)
	}

	return c
}

// Entries returns a copy of every captured entry, oldest first.
func (r *Recorder) Entries() []Entry {
	return r.store.snapshot(func(Entry) bool { return true })
}

// Errors returns a copy of the captured entries at Error level and above.
func (r *Recorder) Errors() []Entry {
	return r.store.snapshot(func(e Entry) bool { return e.Level >= slog.LevelError })
}

// Reset drops all captured entries.
func (r *Recorder) Reset() {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.entries = nil
}

// SetScope replaces the attributes added to every record from now on, by
// this Recorder and every handler derived from it. Loggers handed to other
// components pick the scope up without being rebuilt. No attrs clears it.
func (r *Recorder) SetScope(attrs ...slog.Attr) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.scope = append([]slog.Attr(nil), attrs...)
}

func (r *Recorder) clone() *Recorder {
	return &Recorder{
		next:   r.next,
		level:  r.level,
		fields: append([]Field(nil), r.fields...),
		prefix: r.prefix,
		store:  r.store,
	}
}

func (s *store) add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if s.limit > 0 && len(s.entries) > s.limit {
		s.entries = append([]Entry(nil), s.entries[len(s.entries)-s.limit:]...)
	}
}

func (s *store) currentScope() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scope
}

func (s *store) snapshot(keep func(Entry) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}

	return out
}

// appendAttr flattens a (possibly grouped) attribute into fields.
func appendAttr(fields []Field, prefix string, a slog.Attr) []Field {
	a.Value = a.Value.Resolve()

	if a.Equal(slog.Attr{}) {
		return fields
	}

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}

		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, groupPrefix, ga)
		}

		return fields
	}

	return append(fields, Field{Key: prefix + a.Key, Value: a.Value.String()})
}
