package dispatch

import (
	"context"
	"fmt"

	"statusbot/internal/alerts"
	"statusbot/internal/notify"
	"statusbot/internal/report"
)

// Renderer produces the message body for one category.
type Renderer func(ctx context.Context) (string, error)

type PerpsReporter interface {
	Report(ctx context.Context) string
}

type AlertSource interface {
	Evaluate(ctx context.Context) []notify.Alert
	EvaluateCategory(ctx context.Context, category notify.Category) []notify.Alert
}

type StatusSource interface {
	Report(ctx context.Context) (string, error)
}

// Sources are the backends the registry binds categories to. A nil status
// source renders as report.ErrNotConfigured.
type Sources struct {
	Perps  PerpsReporter
	Alerts AlertSource
	Status map[notify.Category]StatusSource
}

type Registry struct {
	renderers map[notify.Category]Renderer
}

// NewRegistry binds every category to a renderer. It fails if a category
// has no binding or a required source is missing.
func NewRegistry(src Sources) (*Registry, error) {
	r := &Registry{renderers: make(map[notify.Category]Renderer)}
	for _, c := range notify.Categories() {
		fn, err := src.rendererFor(c)
		if err != nil {
			return nil, err
		}
		r.renderers[c] = fn
	}
	return r, nil
}

func (src Sources) rendererFor(c notify.Category) (Renderer, error) {
	switch c {
	case notify.PerpsDailyReport:
		if src.Perps == nil {
			return nil, fmt.Errorf("category %s: perps reporter missing", c)
		}
		return func(ctx context.Context) (string, error) {
			return src.Perps.Report(ctx), nil
		}, nil

	case notify.PerpsExposureAlertsProd, notify.PerpsExposureAlertsStaging:
		if src.Alerts == nil {
			return nil, fmt.Errorf("category %s: alert source missing", c)
		}
		return func(ctx context.Context) (string, error) {
			return alerts.FormatDigest(c, src.Alerts.EvaluateCategory(ctx, c)), nil
		}, nil

	case notify.WalletManager, notify.TWAP, notify.LiquidityHub, notify.DefiNotifications:
		s := src.Status[c]
		if s == nil {
			return notConfigured, nil
		}
		return s.Report, nil

	case notify.WalletManagerAlerts:
		// No alert feed exists for the wallet manager yet.
		return notConfigured, nil

	default:
		return nil, fmt.Errorf("category %s: no renderer", c)
	}
}

func notConfigured(context.Context) (string, error) { return "", report.ErrNotConfigured }

// Lookup returns the renderer for c.
func (r *Registry) Lookup(c notify.Category) (Renderer, bool) {
	fn, ok := r.renderers[c]
	return fn, ok
}
