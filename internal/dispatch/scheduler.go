package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"statusbot/pkg/logx"
)

const DefaultDailySpec = "0 0 12 * * *"

// Runner is what the scheduler triggers. *Dispatcher implements it.
type Runner interface {
	RunDaily(ctx context.Context) BatchSummary
	RunAlerts(ctx context.Context) BatchSummary
}

type SchedulerConfig struct {
	DailySpec  string // default DefaultDailySpec
	AlertSpec  string // empty disables the alert check
	Timezone   string // IANA name; empty means local time
	JobTimeout time.Duration
}

// Scheduler fires the daily digest and the optional alert check on cron
// specs. A firing is skipped while the previous run of the same job is
// still going.
type Scheduler struct {
	cfg    SchedulerConfig
	runner Runner
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

// ParseSpec validates a cron expression with optional seconds and descriptors
// such as "@every 5m".
func ParseSpec(spec string) error {
	_, err := newParser().Parse(strings.TrimSpace(spec))
	return err
}

func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func NewScheduler(cfg SchedulerConfig, runner Runner, log logx.Logger) (*Scheduler, error) {
	if strings.TrimSpace(cfg.DailySpec) == "" {
		cfg.DailySpec = DefaultDailySpec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		loc = l
	}
	s := &Scheduler{
		cfg:     cfg,
		runner:  runner,
		log:     log.With(logx.String("comp", "scheduler")),
		loc:     loc,
		parser:  newParser(),
		entries: map[string]cron.EntryID{},
	}
	if _, err := s.parser.Parse(cfg.DailySpec); err != nil {
		return nil, fmt.Errorf("daily spec %q: %w", cfg.DailySpec, err)
	}
	if spec := strings.TrimSpace(cfg.AlertSpec); spec != "" {
		if _, err := s.parser.Parse(spec); err != nil {
			return nil, fmt.Errorf("alert spec %q: %w", spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	s.baseCtx, s.cancel = context.WithCancel(ctx)

	id, err := c.AddFunc(s.cfg.DailySpec, s.job("daily", s.runner.RunDaily))
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule daily: %w", err)
	}
	s.entries["daily"] = id
	if spec := strings.TrimSpace(s.cfg.AlertSpec); spec != "" {
		id, err := c.AddFunc(spec, s.job("alerts", s.runner.RunAlerts))
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule alerts: %w", err)
		}
		s.entries["alerts"] = id
	}

	c.Start()
	s.c = c
	for name, id := range s.entries {
		s.log.Info("job scheduled", logx.String("job", name), logx.Time("next", c.Entry(id).Next))
	}
	return nil
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; cancelling running jobs")
	}
	cancel()
}

// Next returns the next firing time of a job ("daily" or "alerts").
func (s *Scheduler) Next(job string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[job]
	if !ok || s.c == nil {
		return time.Time{}, false
	}
	return s.c.Entry(id).Next, true
}

func (s *Scheduler) job(name string, run func(context.Context) BatchSummary) func() {
	return func() {
		s.mu.Lock()
		base := s.baseCtx
		s.mu.Unlock()
		ctx := base
		var cancel context.CancelFunc
		if s.cfg.JobTimeout > 0 {
			ctx, cancel = context.WithTimeout(base, s.cfg.JobTimeout)
			defer cancel()
		}
		s.log.Info("job started", logx.String("job", name))
		run(ctx)
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
