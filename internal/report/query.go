package report

import (
	"encoding/json"
	"strconv"
	"strings"
)

// bucketAgg is the top-level aggregation every metric hangs off.
const bucketAgg = "0"

// topHit describes a "latest value" metric: a filter on the field's existence
// wrapping a one-hit top_hits that returns the field as a docvalue.
type topHit struct {
	name  string
	field string
}

var topHits = []topHit{
	{"marginBalance", "marginBalanceNum"},
	{"erc20Balance", "erc20BalanceNum"},
	{"totalPartyBUnPnl", "totalPartyBUnPnl"},
	{"brokerUpnl", "upnl.keyword"},
	{"partyBAllocatedBalance", "partyBAllocatedBalanceNum"},
}

// Query builds the search body for one environment over the previous day.
func Query(env string) []byte {
	aggs := map[string]any{}
	for _, h := range topHits {
		aggs[h.name] = map[string]any{
			"filter": map[string]any{"exists": map[string]any{"field": h.field}},
			"aggs": map[string]any{
				h.name: map[string]any{
					"top_hits": map[string]any{
						"size":            1,
						"_source":         false,
						"docvalue_fields": []string{h.field},
						"sort":            []any{map[string]any{"@timestamp": map[string]any{"order": "desc"}}},
					},
				},
			},
		}
	}
	trades := map[string]any{"term": map[string]any{"type.keyword": "trade"}}
	aggs["volume"] = map[string]any{
		"filter": trades,
		"aggs":   map[string]any{"volume": map[string]any{"sum": map[string]any{"field": "volumeNum"}}},
	}
	aggs["users"] = map[string]any{
		"filter": trades,
		"aggs":   map[string]any{"users": map[string]any{"cardinality": map[string]any{"field": "user.keyword"}}},
	}
	aggs["trades"] = map[string]any{"filter": trades}

	body := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"env.keyword": env}},
					map[string]any{"range": map[string]any{"@timestamp": map[string]any{"gte": "now-1d/d", "lt": "now/d"}}},
				},
			},
		},
		"aggs": map[string]any{
			bucketAgg: map[string]any{
				"terms": map[string]any{"field": "env.keyword", "size": 1},
				"aggs":  aggs,
			},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

// ExtractMetrics reads the metrics out of a decoded search response. A missing
// bucket, sub-aggregation, hit or field reads as 0.
func ExtractMetrics(resp map[string]any) Metrics {
	bucket := walk(resp, "aggregations", bucketAgg, "buckets", 0)
	latest := func(name, field string) float64 {
		return toFloat(walk(bucket, name, name, "hits", "hits", 0, "fields", field, 0))
	}
	return Metrics{
		MarginBalance:         latest("marginBalance", "marginBalanceNum"),
		UnallocatedBalance:    latest("erc20Balance", "erc20BalanceNum"),
		ProtocolUnrealizedPnl: latest("totalPartyBUnPnl", "totalPartyBUnPnl"),
		BrokerUnrealizedPnl:   latest("brokerUpnl", "upnl.keyword"),
		AllocatedBalance:      latest("partyBAllocatedBalance", "partyBAllocatedBalanceNum"),
		Volume:                toFloat(walk(bucket, "volume", "volume", "value")),
		Users:                 toFloat(walk(bucket, "users", "users", "value")),
		Trades:                toFloat(walk(bucket, "trades", "doc_count")),
	}
}

// walk follows string keys through objects and int indexes through arrays.
// Any miss returns nil.
func walk(v any, path ...any) any {
	for _, p := range path {
		switch k := p.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[k]
		case int:
			a, ok := v.([]any)
			if !ok || k < 0 || k >= len(a) {
				return nil
			}
			v = a[k]
		default:
			return nil
		}
	}
	return v
}

// toFloat accepts JSON numbers and numeric strings; everything else,
// including NaN and infinities, is 0.
func toFloat(v any) float64 {
	f := parseFloat(v)
	if !finite(f) {
		return 0
	}
	return f
}

func parseFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
