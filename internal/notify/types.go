package notify

import (
	"strings"
	"time"
)

// Subscription binds a chat to a category. One record per confirmation.
type Subscription struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Category  Category  `json:"notification_type"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportRow is one label/value line of a rendered report table.
type ReportRow struct {
	Label string
	Value string
}

type AlertKind string

const (
	AlertExposureBreach AlertKind = "PerpsExposure"
	AlertBackendDown    AlertKind = "PerpsApiDown"
)

// Alert is a single event produced by an alert check. It is never persisted;
// only its dedup key is.
type Alert struct {
	Category        Category
	Kind            AlertKind
	Name            string
	TimestampMillis int64
	Message         string
}

// Key identifies the alert across checks for suppression windows.
func (a Alert) Key() string {
	return strings.Join([]string{string(a.Category), string(a.Kind), a.Name}, "|")
}

func (a Alert) Time() time.Time { return time.UnixMilli(a.TimestampMillis) }
