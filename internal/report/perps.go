package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/pkg/logx"
)

const (
	dateLayout      = "02/01/2006"
	envErrorLine    = "Error running report"
	maxResponseBody = 8 << 20
)

var DefaultEnvs = []string{"staging", "prod"}

type Config struct {
	SearchURL string
	Envs      []string
	Location  *time.Location
}

type Option func(*options)

type options struct {
	client   *http.Client
	log      logx.Logger
	reporter observability.Reporter
	now      func() time.Time
}

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }
func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }
func WithReporter(r observability.Reporter) Option { return func(o *options) { o.reporter = r } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func buildOptions(opts []Option) options {
	o := options{
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logx.Nop(),
		now:    time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.reporter = observability.OrNop(o.reporter)
	return o
}

// Aggregator renders the Perps daily report across environments.
type Aggregator struct {
	cfg Config
	options
}

func NewAggregator(cfg Config, opts ...Option) *Aggregator {
	if len(cfg.Envs) == 0 {
		cfg.Envs = DefaultEnvs
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	a := &Aggregator{cfg: cfg, options: buildOptions(opts)}
	a.log = a.log.With(logx.String("comp", "report.perps"))
	return a
}

// Title is the report header dated the previous day in the configured zone.
func (a *Aggregator) Title() string {
	day := a.now().In(a.cfg.Location).AddDate(0, 0, -1)
	return fmt.Sprintf("📊 *%s* - %s", notify.PerpsDailyReport.Name(), day.Format(dateLayout))
}

// Report never fails as a whole: an environment that cannot be fetched gets
// an error line in place of its table.
func (a *Aggregator) Report(ctx context.Context) string {
	sections := make([]string, len(a.cfg.Envs))

	// No errgroup.WithContext: one env failing must not cancel the others.
	var g errgroup.Group
	for i, env := range a.cfg.Envs {
		g.Go(func() error {
			m, err := a.Fetch(ctx, env)
			if err != nil {
				a.log.Warn("perps report env failed", logx.String("env", env), logx.Err(err))
				a.reporter.Report(ctx, observability.Event{
					Kind:    observability.KindFetchError,
					Err:     err,
					Context: map[string]string{"source": "search", "env": env},
				})
				sections[i] = "\n\n*" + strings.ToUpper(env) + "*\n" + envErrorLine
				return nil
			}
			sections[i] = Section(strings.ToUpper(env), Rows(m))
			return nil
		})
	}
	_ = g.Wait()

	return a.Title() + strings.Join(sections, "")
}

// Fetch runs the search for one environment and extracts its metrics.
func (a *Aggregator) Fetch(ctx context.Context, env string) (Metrics, error) {
	fail := func(status int, err error) (Metrics, error) {
		return Metrics{}, &FetchError{Source: "search", Env: env, Status: status, Err: err}
	}
	if strings.TrimSpace(a.cfg.SearchURL) == "" {
		return fail(0, ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.SearchURL, bytes.NewReader(Query(env)))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, errors.New(resp.Status))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return fail(0, fmt.Errorf("decode response: %w", err))
	}
	if _, ok := body["aggregations"]; !ok {
		return fail(0, errors.New("response has no aggregations"))
	}
	return ExtractMetrics(body), nil
}
