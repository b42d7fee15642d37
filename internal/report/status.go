package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/pkg/logx"
)

// StatusReporter renders a generic status digest from a JSON endpoint. Scalar
// fields become rows; nested objects are flattened one level with dotted
// labels; arrays render as their length.
type StatusReporter struct {
	category notify.Category
	url      string
	options
}

func NewStatusReporter(category notify.Category, url string, opts ...Option) *StatusReporter {
	s := &StatusReporter{category: category, url: strings.TrimSpace(url), options: buildOptions(opts)}
	s.log = s.log.With(logx.String("comp", "report.status"), logx.String("category", string(category)))
	return s
}

func (s *StatusReporter) Configured() bool { return s.url != "" }

func (s *StatusReporter) Report(ctx context.Context) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	fields, err := s.fetch(ctx)
	if err != nil {
		s.reporter.Report(ctx, observability.Event{
			Kind:    observability.KindFetchError,
			Err:     err,
			Context: map[string]string{"source": string(s.category), "env": "default"},
		})
		return "", err
	}
	title := fmt.Sprintf("📋 *%s* - %s", s.category.Name(), s.now().Format(dateLayout))
	if len(fields) == 0 {
		return title + "\n\nNo data", nil
	}
	return title + "\n```\n" + RenderTable(fields) + "\n```", nil
}

func (s *StatusReporter) fetch(ctx context.Context) ([]notify.ReportRow, error) {
	fail := func(status int, err error) ([]notify.ReportRow, error) {
		return nil, &FetchError{Source: string(s.category), Env: "default", Status: status, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, errors.New(resp.Status))
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return fail(0, fmt.Errorf("decode response: %w", err))
	}
	return flattenRows(body), nil
}

func flattenRows(body map[string]any) []notify.ReportRow {
	var rows []notify.ReportRow
	add := func(label string, v any) {
		switch x := v.(type) {
		case nil:
			rows = append(rows, notify.ReportRow{Label: label, Value: "-"})
		case bool:
			rows = append(rows, notify.ReportRow{Label: label, Value: fmt.Sprint(x)})
		case json.Number:
			rows = append(rows, notify.ReportRow{Label: label, Value: x.String()})
		case string:
			rows = append(rows, notify.ReportRow{Label: label, Value: x})
		case []any:
			rows = append(rows, notify.ReportRow{Label: label, Value: fmt.Sprintf("%d items", len(x))})
		}
	}
	for k, v := range body {
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				if _, deeper := nv.(map[string]any); deeper {
					continue
				}
				add(k+"."+nk, nv)
			}
			continue
		}
		add(k, v)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	return rows
}
