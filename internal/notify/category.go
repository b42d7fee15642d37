package notify

import (
	"errors"
	"fmt"
	"strings"
)

// Category is a notification class a chat can subscribe to. The set is
// closed; the identifier is persisted and used in callback data.
type Category string

const (
	WalletManager              Category = "WalletManager"
	TWAP                       Category = "TWAP"
	WalletManagerAlerts        Category = "WalletManagerAlerts"
	LiquidityHub               Category = "LiquidityHub"
	DefiNotifications          Category = "DefiNotifications"
	PerpsDailyReport           Category = "PerpsDailyReport"
	PerpsExposureAlertsProd    Category = "PerpsExposureAlertsProd"
	PerpsExposureAlertsStaging Category = "PerpsExposureAlertsStaging"
)

// Kind separates periodic digests from event-driven alert streams.
type Kind int

const (
	KindDigest Kind = iota + 1
	KindAlert
)

func (k Kind) String() string {
	switch k {
	case KindDigest:
		return "digest"
	case KindAlert:
		return "alert"
	default:
		return "unknown"
	}
}

type categoryInfo struct {
	name string
	kind Kind
}

// declaration order is the order shown in the subscribe keyboard
var categories = []Category{
	WalletManager,
	TWAP,
	WalletManagerAlerts,
	LiquidityHub,
	DefiNotifications,
	PerpsDailyReport,
	PerpsExposureAlertsProd,
	PerpsExposureAlertsStaging,
}

var categoryTable = map[Category]categoryInfo{
	WalletManager:              {"Wallet Manager", KindDigest},
	TWAP:                       {"TWAP", KindDigest},
	WalletManagerAlerts:        {"Wallet Manager Alerts", KindAlert},
	LiquidityHub:               {"Liquidity Hub", KindDigest},
	DefiNotifications:          {"DeFi Notifications", KindDigest},
	PerpsDailyReport:           {"Perps Daily Report", KindDigest},
	PerpsExposureAlertsProd:    {"Perps Exposure Alerts (Prod)", KindAlert},
	PerpsExposureAlertsStaging: {"Perps Exposure Alerts (Staging)", KindAlert},
}

var ErrUnknownCategory = errors.New("unknown notification category")

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory resolves a persisted identifier. Matching is exact after
// trimming surrounding whitespace.
func ParseCategory(id string) (Category, error) {
	c := Category(strings.TrimSpace(id))
	if _, ok := categoryTable[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, id)
	}
	return c, nil
}

func (c Category) Valid() bool {
	_, ok := categoryTable[c]
	return ok
}

// Name is the human-readable display name.
func (c Category) Name() string {
	if info, ok := categoryTable[c]; ok {
		return info.name
	}
	return string(c)
}

func (c Category) Kind() Kind {
	return categoryTable[c].kind
}

func (c Category) String() string { return string(c) }

// ExposureAlertCategory maps an environment name to its exposure alert
// stream. Names other than prod/production and staging have none.
func ExposureAlertCategory(env string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return PerpsExposureAlertsProd, true
	case "staging":
		return PerpsExposureAlertsStaging, true
	}
	return "", false
}
