package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/internal/report"
	"statusbot/internal/storage"
	kit "statusbot/internal/transport"
	"statusbot/pkg/logx"
)

const (
	defaultSendInterval = time.Second
	defaultDedupWindow  = time.Hour
)

// Sender is the slice of the gateway the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	// SendInterval is the pause between consecutive sends. Zero means one
	// second; negative disables pacing.
	SendInterval time.Duration
	// DedupWindow suppresses a repeated alert key. Zero means one hour.
	DedupWindow time.Duration
}

type ResultKind string

const (
	ResultSent    ResultKind = "sent"
	ResultFailed  ResultKind = "failed"
	ResultSkipped ResultKind = "skipped"
)

type Result struct {
	Subscription notify.Subscription
	Kind         ResultKind
	Err          error
}

// BatchSummary is the outcome of one run. Err is set only when the run
// could not start (the subscription list was unavailable).
type BatchSummary struct {
	Started    time.Time
	Finished   time.Time
	Sent       int
	Failed     int
	Skipped    int
	Suppressed int // alert runs only: alerts inside their dedup window
	Results    []Result
	Err        error
}

func (b *BatchSummary) record(r Result) {
	switch r.Kind {
	case ResultSent:
		b.Sent++
	case ResultFailed:
		b.Failed++
	case ResultSkipped:
		b.Skipped++
	}
	b.Results = append(b.Results, r)
}

// DeliveryError is a failed render or send for one subscription.
type DeliveryError struct {
	ChatID   int64
	Category notify.Category
	Stage    string // "render" or "send"
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %d (%s): %v", e.Category, e.ChatID, e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Dispatcher struct {
	store    storage.Store
	gw       Sender
	reg      *Registry
	alerts   AlertSource
	cfg      Config
	log      logx.Logger
	reporter observability.Reporter
	limiter  *rate.Limiter
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }
func WithReporter(r observability.Reporter) Option { return func(d *Dispatcher) { d.reporter = r } }
func WithAlertSource(a AlertSource) Option { return func(d *Dispatcher) { d.alerts = a } }
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func New(cfg Config, store storage.Store, gw Sender, reg *Registry, opts ...Option) *Dispatcher {
	if cfg.SendInterval == 0 {
		cfg.SendInterval = defaultSendInterval
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	d := &Dispatcher{store: store, gw: gw, reg: reg, cfg: cfg, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "dispatch"))
	d.reporter = observability.OrNop(d.reporter)

	lim := rate.Inf
	if cfg.SendInterval > 0 {
		lim = rate.Every(cfg.SendInterval)
	}
	d.limiter = rate.NewLimiter(lim, 1)
	return d
}

// RunDaily renders each subscription's category and sends it, one recipient
// at a time. A failure for one recipient never stops the batch. Each
// category is rendered at most once per run.
func (d *Dispatcher) RunDaily(ctx context.Context) BatchSummary {
	sum := BatchSummary{Started: d.now()}
	defer func() { d.logSummary("daily", &sum) }()

	subs, err := d.store.ListAll(ctx)
	if err != nil {
		sum.Err = err
		sum.Finished = d.now()
		d.reportStorage(ctx, "list", err)
		return sum
	}

	type rendered struct {
		text string
		err  error
	}
	cache := make(map[notify.Category]rendered)

	for _, sub := range subs {
		r, ok := cache[sub.Category]
		if !ok {
			r.text, r.err = d.render(ctx, sub.Category)
			cache[sub.Category] = r
		}
		switch {
		case errors.Is(r.err, report.ErrNotConfigured):
			d.recordResult(ctx, &sum, Result{Subscription: sub, Kind: ResultSkipped, Err: r.err})
		case r.err != nil:
			d.recordResult(ctx, &sum, Result{Subscription: sub, Kind: ResultFailed,
				Err: &DeliveryError{ChatID: sub.ChatID, Category: sub.Category, Stage: "render", Err: r.err}})
		default:
			d.recordResult(ctx, &sum, d.send(ctx, sub, r.text))
		}
	}
	sum.Finished = d.now()
	return sum
}

// RunAlerts evaluates the alert sources and pushes every alert outside its
// dedup window to the subscribers of the alert's category.
func (d *Dispatcher) RunAlerts(ctx context.Context) BatchSummary {
	sum := BatchSummary{Started: d.now()}
	defer func() { d.logSummary("alerts", &sum) }()

	if d.alerts == nil {
		sum.Finished = d.now()
		return sum
	}
	found := d.alerts.Evaluate(ctx)
	if len(found) == 0 {
		sum.Finished = d.now()
		return sum
	}

	subs, err := d.store.ListAll(ctx)
	if err != nil {
		sum.Err = err
		sum.Finished = d.now()
		d.reportStorage(ctx, "list", err)
		return sum
	}
	byCategory := make(map[notify.Category][]notify.Subscription)
	for _, s := range subs {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	for _, a := range found {
		targets := byCategory[a.Category]
		if len(targets) == 0 {
			continue
		}
		key := a.Key()
		if until, ok, err := d.store.GetDedup(ctx, key); err != nil {
			d.reportStorage(ctx, "get_dedup", err)
		} else if ok && d.now().Before(until) {
			sum.Suppressed++
			continue
		}

		delivered := false
		for _, sub := range targets {
			res := d.send(ctx, sub, a.Message)
			delivered = delivered || res.Kind == ResultSent
			d.recordResult(ctx, &sum, res)
		}
		if delivered {
			if err := d.store.PutDedup(ctx, key, d.now().Add(d.cfg.DedupWindow)); err != nil {
				d.reportStorage(ctx, "put_dedup", err)
			}
		}
	}
	sum.Finished = d.now()
	return sum
}

func (d *Dispatcher) render(ctx context.Context, c notify.Category) (string, error) {
	fn, ok := d.reg.Lookup(c)
	if !ok {
		return "", fmt.Errorf("no renderer for %s", c)
	}
	return fn(ctx)
}

// send waits for the pacing limiter, then delivers text to sub's chat.
func (d *Dispatcher) send(ctx context.Context, sub notify.Subscription, text string) Result {
	fail := func(err error) Result {
		return Result{Subscription: sub, Kind: ResultFailed,
			Err: &DeliveryError{ChatID: sub.ChatID, Category: sub.Category, Stage: "send", Err: err}}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fail(err)
	}
	_, err := d.gw.SendText(ctx, kit.ChatTarget{ChatID: sub.ChatID}, text, &kit.SendOptions{
		ParseMode:      kit.ParseModeMarkdown,
		DisablePreview: true,
	})
	if err != nil {
		return fail(err)
	}
	return Result{Subscription: sub, Kind: ResultSent}
}

func (d *Dispatcher) recordResult(ctx context.Context, sum *BatchSummary, r Result) {
	sum.record(r)
	ev := observability.Event{
		Kind: observability.KindDelivery,
		Context: map[string]string{
			"result":   string(r.Kind),
			"category": string(r.Subscription.Category),
			"chat_id":  strconv.FormatInt(r.Subscription.ChatID, 10),
		},
		At: d.now(),
	}
	if r.Kind == ResultFailed {
		ev.Err = r.Err
	}
	d.reporter.Report(ctx, ev)
}

func (d *Dispatcher) reportStorage(ctx context.Context, op string, err error) {
	d.log.Error("storage failure", logx.String("op", op), logx.Err(err))
	d.reporter.Report(ctx, observability.Event{
		Kind:    observability.KindStorageError,
		Err:     err,
		Context: map[string]string{"op": op},
		At:      d.now(),
	})
}

func (d *Dispatcher) logSummary(run string, s *BatchSummary) {
	fields := []logx.Field{
		logx.String("run", run),
		logx.Int("sent", s.Sent),
		logx.Int("failed", s.Failed),
		logx.Int("skipped", s.Skipped),
		logx.Duration("dur", s.Finished.Sub(s.Started)),
	}
	if s.Suppressed > 0 {
		fields = append(fields, logx.Int("suppressed", s.Suppressed))
	}
	switch {
	case s.Err != nil:
		d.log.Error("dispatch run aborted", append(fields, logx.Err(s.Err))...)
	case s.Failed > 0:
		d.log.Warn("dispatch run finished with failures", fields...)
	default:
		d.log.Info("dispatch run finished", fields...)
	}
}
