package alerts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"statusbot/internal/notify"
)

func exposureServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exposure-comparison" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedClock() time.Time { return time.UnixMilli(1_700_000_000_000) }

func TestEvaluateThreshold(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusOK, `[
		{"symbol": "BTCUSDT", "quantityDelta": 1e-11, "markPrice": 60000},
		{"symbol": "ETHUSDT", "quantityDelta": 1e-9, "markPrice": 2000},
		{"symbol": "SOLUSDT", "quantityDelta": -3, "markPrice": 150}
	]`)
	ev := NewEvaluator([]Env{{Name: "prod", BaseURL: srv.URL}}, WithClock(fixedClock))

	got := ev.Evaluate(context.Background())
	if len(got) != 1 {
		t.Fatalf("alerts = %+v, want exactly one", got)
	}
	a := got[0]
	if a.Kind != notify.AlertExposureBreach || a.Name != "ETHUSDT" || a.Category != notify.PerpsExposureAlertsProd {
		t.Fatalf("unexpected alert %+v", a)
	}
	// 1e-9 * 2000 = 2e-6 dollars, which rounds to $0.00.
	want := "🚨 *Exposure Alert* 🚨\n\nEnv: *PROD*\nSymbol: *ETHUSDT*\nAmount: *$0.00*\nQuantity Delta: *1e-9*"
	if a.Message != want {
		t.Fatalf("message = %q, want %q", a.Message, want)
	}
	if a.TimestampMillis != fixedClock().UnixMilli() {
		t.Fatalf("timestamp = %d", a.TimestampMillis)
	}
}

func TestProductionEnvFeedsProdAlerts(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusOK, `[{"symbol": "BTCUSDT", "quantityDelta": 1, "markPrice": 1}]`)
	ev := NewEvaluator([]Env{{Name: "production", BaseURL: srv.URL}, {Name: "qa", BaseURL: srv.URL}})

	got := ev.Evaluate(context.Background())
	if len(got) != 1 || got[0].Category != notify.PerpsExposureAlertsProd {
		t.Fatalf("alerts = %+v, want one prod alert", got)
	}
	if n := len(ev.EvaluateCategory(context.Background(), notify.PerpsExposureAlertsStaging)); n != 0 {
		t.Fatalf("staging got %d alerts", n)
	}
}

func TestEvaluateOverflowingAmount(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusOK, `[{"symbol": "BTCUSDT", "quantityDelta": 1e200, "markPrice": 1e200}]`)
	got := NewEvaluator([]Env{{Name: "prod", BaseURL: srv.URL}}).Evaluate(context.Background())
	if len(got) != 1 || !strings.Contains(got[0].Message, "Amount: *-*") {
		t.Fatalf("alerts = %+v", got)
	}
}

func TestEvaluateEscapesSymbol(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusOK, `[{"symbol": "1000_PEPE*USDT", "quantityDelta": 1, "markPrice": 1}]`)
	got := NewEvaluator([]Env{{Name: "prod", BaseURL: srv.URL}}).Evaluate(context.Background())
	if len(got) != 1 {
		t.Fatalf("alerts = %+v", got)
	}
	if !strings.Contains(got[0].Message, `Symbol: *1000\_PEPE\*USDT*`) {
		t.Fatalf("symbol not escaped: %q", got[0].Message)
	}
	if got[0].Name != "1000_PEPE*USDT" {
		t.Fatalf("dedup name = %q, want raw symbol", got[0].Name)
	}
}

func TestEvaluateBackendDownIsolated(t *testing.T) {
	t.Parallel()
	staging := exposureServer(t, http.StatusOK, `[{"symbol": "ETHUSDT", "quantityDelta": 0.5, "markPrice": 2000}]`)
	prod := exposureServer(t, http.StatusInternalServerError, `oops`)
	ev := NewEvaluator([]Env{
		{Name: "staging", BaseURL: staging.URL},
		{Name: "prod", BaseURL: prod.URL},
	})

	got := ev.Evaluate(context.Background())
	if len(got) != 2 {
		t.Fatalf("alerts = %+v, want 2", got)
	}
	if got[0].Category != notify.PerpsExposureAlertsStaging || got[0].Kind != notify.AlertExposureBreach {
		t.Fatalf("staging should still report its breach first: %+v", got[0])
	}
	if !strings.Contains(got[0].Message, "Amount: *$1,000.00*") || !strings.Contains(got[0].Message, "Quantity Delta: *0.5*") {
		t.Fatalf("staging message = %q", got[0].Message)
	}
	down := got[1]
	if down.Kind != notify.AlertBackendDown || down.Category != notify.PerpsExposureAlertsProd {
		t.Fatalf("want BackendDown for prod, got %+v", down)
	}
	if down.Name != "Perps Analytics Api Down" || down.Message != "🚨 *Perps Analytics Api Down* [PROD]" {
		t.Fatalf("down alert = %+v", down)
	}
}

func TestEvaluateMalformedBodyIsBackendDown(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusOK, `{"not": "an array"}`)
	got := NewEvaluator([]Env{{Name: "staging", BaseURL: srv.URL}}).Evaluate(context.Background())
	if len(got) != 1 || got[0].Kind != notify.AlertBackendDown || !strings.HasSuffix(got[0].Message, "[STAGING]") {
		t.Fatalf("alerts = %+v", got)
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	t.Parallel()
	srv := exposureServer(t, http.StatusServiceUnavailable, "")
	_, err := NewEvaluator(nil).fetch(context.Background(), Env{Name: "prod", BaseURL: srv.URL + "/"})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusServiceUnavailable || fe.Env != "prod" {
		t.Fatalf("err = %v", err)
	}
}

func TestFormatDelta(t *testing.T) {
	t.Parallel()
	tests := map[float64]string{
		1e-9:    "1e-9",
		0.5:     "0.5",
		1234567: "1234567",
		2.5e-7:  "2.5e-7",
		0:       "0",
	}
	for in, want := range tests {
		if got := formatDelta(in); got != want {
			t.Errorf("formatDelta(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDigest(t *testing.T) {
	t.Parallel()
	alerts := []notify.Alert{
		{Category: notify.PerpsExposureAlertsProd, Message: "prod-1"},
		{Category: notify.PerpsExposureAlertsStaging, Message: "staging-1"},
		{Category: notify.PerpsExposureAlertsProd, Message: "prod-2"},
	}
	got := FormatDigest(notify.PerpsExposureAlertsProd, alerts)
	if !strings.HasPrefix(got, "🚨 *Perps Exposure Alerts (Prod)* - 2 active") {
		t.Fatalf("digest header = %q", got)
	}
	if strings.Contains(got, "staging-1") || !strings.Contains(got, "prod-1\n\nprod-2") {
		t.Fatalf("digest body = %q", got)
	}
	allClear := FormatDigest(notify.PerpsExposureAlertsStaging, nil)
	if allClear != "✅ *Perps Exposure Alerts (Staging)*\n\nNo active alerts." {
		t.Fatalf("all-clear = %q", allClear)
	}
}

func TestEvaluateCategoryPollsOnlyMatchingEnv(t *testing.T) {
	t.Parallel()
	prodHits := 0
	prod := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prodHits++
		_, _ = io.WriteString(w, `[]`)
	}))
	defer prod.Close()
	staging := exposureServer(t, http.StatusOK, `[{"symbol": "X", "quantityDelta": 1, "markPrice": 1}]`)

	ev := NewEvaluator([]Env{{Name: "staging", BaseURL: staging.URL}, {Name: "prod", BaseURL: prod.URL}})
	got := ev.EvaluateCategory(context.Background(), notify.PerpsExposureAlertsStaging)
	if len(got) != 1 || got[0].Name != "X" {
		t.Fatalf("alerts = %+v", got)
	}
	if prodHits != 0 {
		t.Fatalf("prod polled %d times for a staging-only evaluation", prodHits)
	}
}
