package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/internal/report"
	"statusbot/pkg/logx"
)

// Epsilon is the smallest quantity delta treated as real exposure.
const Epsilon = 1e-10

const apiDownName = "Perps Analytics Api Down"

// Env is one analytics deployment to poll.
type Env struct {
	Name    string // "staging", "prod" or "production"
	BaseURL string
}

// Category maps the environment to its alert stream.
func (e Env) Category() (notify.Category, bool) {
	return notify.ExposureAlertCategory(e.Name)
}

func (e Env) label() string { return strings.ToUpper(e.Name) }

// PairExposure is one record of the exposure-comparison endpoint.
type PairExposure struct {
	Symbol        string  `json:"symbol"`
	QuantityDelta float64 `json:"quantityDelta"`
	MarkPrice     float64 `json:"markPrice"`
}

type FetchError struct {
	Env    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exposure [%s]: http %d: %v", e.Env, e.Status, e.Err)
	}
	return fmt.Sprintf("exposure [%s]: %v", e.Env, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Evaluator struct {
	envs     []Env
	client   *http.Client
	log      logx.Logger
	reporter observability.Reporter
	now      func() time.Time
}

type Option func(*Evaluator)

func WithHTTPClient(c *http.Client) Option { return func(e *Evaluator) { e.client = c } }
func WithLogger(l logx.Logger) Option { return func(e *Evaluator) { e.log = l } }
func WithReporter(r observability.Reporter) Option { return func(e *Evaluator) { e.reporter = r } }
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

func NewEvaluator(envs []Env, opts ...Option) *Evaluator {
	e := &Evaluator{
		envs:   envs,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logx.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "alerts"))
	e.reporter = observability.OrNop(e.reporter)
	return e
}

func (e *Evaluator) Envs() []Env { return e.envs }

// Evaluate polls every environment and returns the alerts in environment
// order. Backend failures become BackendDown alerts; nothing is returned as
// an error.
func (e *Evaluator) Evaluate(ctx context.Context) []notify.Alert {
	return e.evaluate(ctx, e.envs)
}

func (e *Evaluator) evaluate(ctx context.Context, envs []Env) []notify.Alert {
	perEnv := make([][]notify.Alert, len(envs))

	var g errgroup.Group
	for i, env := range envs {
		g.Go(func() error {
			perEnv[i] = e.evaluateEnv(ctx, env)
			return nil
		})
	}
	_ = g.Wait()

	var out []notify.Alert
	for _, a := range perEnv {
		out = append(out, a...)
	}
	return out
}

// EvaluateCategory polls only the environments feeding category.
func (e *Evaluator) EvaluateCategory(ctx context.Context, category notify.Category) []notify.Alert {
	var envs []Env
	for _, env := range e.envs {
		if c, ok := env.Category(); ok && c == category {
			envs = append(envs, env)
		}
	}
	return e.evaluate(ctx, envs)
}

func (e *Evaluator) evaluateEnv(ctx context.Context, env Env) []notify.Alert {
	cat, ok := env.Category()
	if !ok {
		e.log.Warn("environment has no alert category; skipped", logx.String("env", env.Name))
		return nil
	}
	records, err := e.fetch(ctx, env)
	if err != nil {
		e.log.Warn("exposure check failed", logx.String("env", env.Name), logx.Err(err))
		e.reporter.Report(ctx, observability.Event{
			Kind:    observability.KindFetchError,
			Err:     err,
			Context: map[string]string{"source": "exposure", "env": env.Name},
		})
		return []notify.Alert{{
			Category:        cat,
			Kind:            notify.AlertBackendDown,
			Name:            apiDownName,
			TimestampMillis: e.now().UnixMilli(),
			Message:         fmt.Sprintf("🚨 *%s* [%s]", apiDownName, env.label()),
		}}
	}

	var out []notify.Alert
	for _, r := range records {
		if r.QuantityDelta <= Epsilon {
			continue
		}
		e.log.Debug("exposure breach", logx.String("env", env.Name), logx.String("symbol", r.Symbol),
			logx.Float64("quantity_delta", r.QuantityDelta), logx.Float64("mark_price", r.MarkPrice))
		out = append(out, notify.Alert{
			Category:        cat,
			Kind:            notify.AlertExposureBreach,
			Name:            r.Symbol,
			TimestampMillis: e.now().UnixMilli(),
			Message: fmt.Sprintf("🚨 *Exposure Alert* 🚨\n\nEnv: *%s*\nSymbol: *%s*\nAmount: *%s*\nQuantity Delta: *%s*",
				env.label(), escapeMarkdown(r.Symbol), report.Dollar(r.QuantityDelta*r.MarkPrice), formatDelta(r.QuantityDelta)),
		})
	}
	return out
}

func (e *Evaluator) fetch(ctx context.Context, env Env) ([]PairExposure, error) {
	fail := func(status int, err error) ([]PairExposure, error) {
		return nil, &FetchError{Env: env.Name, Status: status, Err: err}
	}
	base := strings.TrimRight(strings.TrimSpace(env.BaseURL), "/")
	if base == "" {
		return fail(0, errors.New("base url not configured"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/exposure-comparison", nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, errors.New("error fetching hedger exposure"))
	}
	var records []PairExposure
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&records); err != nil {
		return fail(0, fmt.Errorf("decode response: %w", err))
	}
	return records, nil
}

// formatDelta prints the shortest round-tripping form: plain decimals for
// ordinary magnitudes, 1e-9 style (no exponent padding) for tiny or huge ones.
func formatDelta(v float64) string {
	abs := math.Abs(v)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, 64), "e")
	return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
}
