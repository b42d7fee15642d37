package observability

import (
	"context"
	"errors"
	"sort"
	"time"

	"statusbot/pkg/logx"
)

// Kind classifies an operational event.
type Kind string

const (
	KindDelivery     Kind = "delivery"      // ctx: result=sent|failed|skipped, category, chat_id
	KindFetchError   Kind = "fetch_error"   // ctx: source, env
	KindStorageError Kind = "storage_error" // ctx: op
)

// Event is one observable occurrence. Err is nil for successful deliveries.
type Event struct {
	Kind    Kind
	Err     error
	Context map[string]string
	At      time.Time
}

// Reporter receives events from the pipeline. Implementations must not block
// for long and must be safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Report(context.Context, Event) {}

// LogReporter writes events through logx. Deliveries log at debug unless
// they failed.
type LogReporter struct {
	log logx.Logger
}

func NewLogReporter(log logx.Logger) *LogReporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogReporter{log: log.With(logx.String("comp", "observability"))}
}

func (r *LogReporter) Report(_ context.Context, ev Event) {
	fields := make([]logx.Field, 0, len(ev.Context)+2)
	fields = append(fields, logx.String("kind", string(ev.Kind)))
	keys := make([]string, 0, len(ev.Context))
	for k := range ev.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, logx.String(k, ev.Context[k]))
	}
	if ev.Err != nil {
		fields = append(fields, logx.Err(ev.Err))
	}

	switch {
	case ev.Kind == KindDelivery && ev.Err == nil:
		r.log.Debug("delivery", fields...)
	case ev.Kind == KindDelivery && errors.Is(ev.Err, context.Canceled):
		r.log.Info("delivery cancelled", fields...)
	default:
		r.log.Warn(string(ev.Kind), fields...)
	}
}

// Multi fans an event out to every non-nil reporter.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, r := range m {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}
