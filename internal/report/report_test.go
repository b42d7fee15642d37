package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
)

func TestDollar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{1234.56, "$1,234.56"},
		{-20, "-$20.00"},
		{1234567.891, "$1,234,567.89"},
		{999.995, "$1,000.00"},
		{0.000002, "$0.00"},
		{-0.001, "$0.00"},
		{100, "$100.00"},
		{math.NaN(), "-"},
		{math.Inf(1), "-"},
		{math.Inf(-1), "-"},
	}
	for _, tt := range tests {
		if got := Dollar(tt.in); got != tt.want {
			t.Errorf("Dollar(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()
	d := Derive(Metrics{MarginBalance: 100, UnallocatedBalance: 50, ProtocolUnrealizedPnl: -20, AllocatedBalance: 30})
	if d.TotalFunds != 160 || d.OnChainValue != 60 {
		t.Fatalf("Derive = %+v, want TotalFunds=160 OnChainValue=60", d)
	}
}

func TestRowsOrder(t *testing.T) {
	t.Parallel()
	rows := Rows(Metrics{Trades: 12, Users: 3, Volume: 1500.5, MarginBalance: 100, UnallocatedBalance: 50, ProtocolUnrealizedPnl: -20, AllocatedBalance: 30})
	want := []notify.ReportRow{
		{Label: "Trades", Value: "12"},
		{Label: "Users", Value: "3"},
		{Label: "Volume", Value: "$1,500.50"},
		{Label: "Total Funds", Value: "$160.00"},
		{Label: "Chain Value", Value: "$60.00"},
		{Label: "Binance Value", Value: "$100.00"},
		{Label: "Chain Alloc.", Value: "$30.00"},
		{Label: "Chain Unalloc.", Value: "$50.00"},
		{Label: "Chain uPnL", Value: "-$20.00"},
		{Label: "Binance uPnL", Value: "$0.00"},
	}
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d", len(rows))
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

const fullResponse = `{
  "aggregations": {"0": {"buckets": [{
    "marginBalance": {"marginBalance": {"hits": {"hits": [{"fields": {"marginBalanceNum": [100]}}]}}},
    "erc20Balance": {"erc20Balance": {"hits": {"hits": [{"fields": {"erc20BalanceNum": [50]}}]}}},
    "totalPartyBUnPnl": {"totalPartyBUnPnl": {"hits": {"hits": [{"fields": {"totalPartyBUnPnl": [-20]}}]}}},
    "brokerUpnl": {"brokerUpnl": {"hits": {"hits": [{"fields": {"upnl.keyword": ["12.5"]}}]}}},
    "partyBAllocatedBalance": {"partyBAllocatedBalance": {"hits": {"hits": [{"fields": {"partyBAllocatedBalanceNum": [30]}}]}}},
    "volume": {"volume": {"value": 2500}},
    "users": {"users": {"value": 4}},
    "trades": {"doc_count": 9}
  }]}}
}`

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestExtractMetrics(t *testing.T) {
	t.Parallel()
	m := ExtractMetrics(decode(t, fullResponse))
	want := Metrics{
		MarginBalance: 100, UnallocatedBalance: 50, ProtocolUnrealizedPnl: -20,
		BrokerUnrealizedPnl: 12.5, AllocatedBalance: 30, Volume: 2500, Users: 4, Trades: 9,
	}
	if m != want {
		t.Fatalf("ExtractMetrics = %+v, want %+v", m, want)
	}
}

func TestExtractMetricsMissingPiecesAreZero(t *testing.T) {
	t.Parallel()
	resp := decode(t, `{"aggregations": {"0": {"buckets": [{
		"volume": {"volume": {"value": 10}},
		"marginBalance": {"marginBalance": {"hits": {"hits": []}}},
		"trades": {"doc_count": 2}
	}]}}}`)
	m := ExtractMetrics(resp)
	if m.Users != 0 || m.MarginBalance != 0 || m.Volume != 10 || m.Trades != 2 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	rows := Rows(m)
	if rows[1].Label != "Users" || rows[1].Value != "0" {
		t.Fatalf("Users row = %+v", rows[1])
	}
	if got := ExtractMetrics(decode(t, `{"aggregations": {"0": {"buckets": []}}}`)); got != (Metrics{}) {
		t.Fatalf("empty buckets = %+v", got)
	}
}

func TestNonFiniteFieldsAreZero(t *testing.T) {
	t.Parallel()
	for _, v := range []string{"NaN", "Inf", "-Infinity"} {
		resp := decode(t, strings.Replace(fullResponse, `["12.5"]`, `["`+v+`"]`, 1))
		if m := ExtractMetrics(resp); m.BrokerUnrealizedPnl != 0 || m.MarginBalance != 100 {
			t.Fatalf("%s: metrics = %+v", v, m)
		}
	}
	// Sums past the float range overflow to +Inf.
	rows := Rows(Metrics{MarginBalance: math.MaxFloat64, UnallocatedBalance: math.MaxFloat64})
	for _, r := range rows {
		if r.Label == "Total Funds" && r.Value != "-" {
			t.Fatalf("overflowing total = %q", r.Value)
		}
	}
}

func TestReportSurvivesNaNField(t *testing.T) {
	t.Parallel()
	body := strings.Replace(fullResponse, `["12.5"]`, `["NaN"]`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	out := NewAggregator(Config{SearchURL: srv.URL}).Report(context.Background())
	if strings.Contains(out, envErrorLine) {
		t.Fatalf("NaN field should not fail the env:\n%s", out)
	}
	if strings.Count(out, "Binance uPnL") != 2 {
		t.Fatalf("want both env tables:\n%s", out)
	}
}

func TestQueryShape(t *testing.T) {
	t.Parallel()
	var q map[string]any
	if err := json.Unmarshal(Query("prod"), &q); err != nil {
		t.Fatalf("query is not JSON: %v", err)
	}
	aggs := walk(q, "aggs", "0", "aggs")
	for _, name := range []string{"marginBalance", "erc20Balance", "totalPartyBUnPnl", "brokerUpnl", "partyBAllocatedBalance", "volume", "users", "trades"} {
		if walk(aggs, name) == nil {
			t.Fatalf("query missing aggregation %s", name)
		}
	}
	if !strings.Contains(string(Query("prod")), `"env.keyword":"prod"`) {
		t.Fatal("query should filter on env")
	}
}

func TestRenderTableWrapsLabels(t *testing.T) {
	t.Parallel()
	out := RenderTable([]notify.ReportRow{{Label: "Chain Unalloc.", Value: "$50.00"}})
	if !strings.Contains(out, "Chain") || !strings.Contains(out, "Unalloc.") {
		t.Fatalf("table lost label:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Chain Unalloc.") {
			t.Fatalf("label should wrap at width %d:\n%s", labelWidth, out)
		}
	}
}

type captureReporter struct {
	mu     sync.Mutex
	events []observability.Event
}

func (c *captureReporter) Report(_ context.Context, ev observability.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func TestReportIsolatesEnvironmentFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"env.keyword":"prod"`) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fullResponse)
	}))
	defer srv.Close()

	rep := &captureReporter{}
	clock := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	a := NewAggregator(Config{SearchURL: srv.URL}, WithClock(clock), WithReporter(rep))
	out := a.Report(context.Background())

	if !strings.HasPrefix(out, "📊 *Perps Daily Report* - 29/02/2024") {
		t.Fatalf("unexpected title: %q", strings.SplitN(out, "\n", 2)[0])
	}
	if strings.Count(out, envErrorLine) != 1 {
		t.Fatalf("want exactly one error line:\n%s", out)
	}
	if strings.Count(out, "```") != 2 {
		t.Fatalf("want exactly one fenced table:\n%s", out)
	}
	stagingAt, prodAt := strings.Index(out, "*STAGING*"), strings.Index(out, "*PROD*")
	if stagingAt < 0 || prodAt < stagingAt {
		t.Fatalf("sections out of order:\n%s", out)
	}
	if !strings.Contains(out[stagingAt:prodAt], "$160.00") {
		t.Fatalf("staging table missing total funds:\n%s", out)
	}
	if !strings.Contains(out[prodAt:], envErrorLine) {
		t.Fatalf("prod should carry the error line:\n%s", out)
	}
	if len(rep.events) != 1 || rep.events[0].Context["env"] != "prod" {
		t.Fatalf("reported events = %+v", rep.events)
	}
}

func TestFetchErrorCarriesStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAggregator(Config{SearchURL: srv.URL}).Fetch(context.Background(), "staging")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusBadGateway || fe.Env != "staging" {
		t.Fatalf("err = %v, want *FetchError with 502", err)
	}
}

func TestAggregatorWithoutURL(t *testing.T) {
	t.Parallel()
	_, err := NewAggregator(Config{}).Fetch(context.Background(), "prod")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestStatusReporter(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"healthy": true, "wallets": [1,2,3], "balance": {"usd": 12.5, "deep": {"x": 1}}, "name": "wm"}`)
	}))
	defer srv.Close()

	clock := func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) }
	out, err := NewStatusReporter(notify.WalletManager, srv.URL, WithClock(clock)).Report(context.Background())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !strings.HasPrefix(out, "📋 *Wallet Manager* - 06/05/2024") {
		t.Fatalf("unexpected title in %q", out)
	}
	for _, want := range []string{"healthy", "true", "3 items", "12.5", "wm"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "deep") {
		t.Fatalf("nested objects beyond one level should be skipped:\n%s", out)
	}
}

func TestStatusReporterNotConfigured(t *testing.T) {
	t.Parallel()
	_, err := NewStatusReporter(notify.TWAP, "  ").Report(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
