package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"statusbot/internal/dispatch"
	"statusbot/internal/notify"
)

const tokenEnv = "STATUSBOT_TELEGRAM_TOKEN"

// ConfigurationError lists every problem found in a config file. It is
// fatal at startup.
type ConfigurationError struct {
	Path     string
	Problems []string
	Err      error // read or decode failure, when there is one
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if len(e.Problems) > 0 {
		b.WriteString(": " + strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// applyEnv fills values that may come from the environment.
func (c *Config) applyEnv() {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		c.Telegram.Token = os.Getenv(tokenEnv)
	}
}

// Validate checks required fields, durations, cron specs and timezones.
func Validate(c *Config) error {
	if c == nil {
		return &ConfigurationError{Problems: []string{"config is nil"}}
	}
	var probs []string
	add := func(format string, args ...any) { probs = append(probs, fmt.Sprintf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			probs = append(probs, err.Error())
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set $%s)", tokenEnv)
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	if c.Logging.Telegram.Enabled && c.Telegram.OpsChatID == 0 {
		add("logging.telegram.enabled requires telegram.ops_chat_id")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required for driver %q", c.Storage.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn is required for driver postgres")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Addr) == "" {
			add("storage.addr is required for driver redis")
		}
	default:
		add("storage.driver %q is not supported", c.Storage.Driver)
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	dur("backends.http_timeout", c.Backends.HTTPTimeout)

	if err := checkURL("report.search_url", c.Report.SearchURL, true); err != "" {
		add("%s", err)
	}
	for i, e := range c.Report.Envs {
		if strings.TrimSpace(e) == "" {
			add("report.envs[%d] is empty", i)
		}
	}
	checkTZ("report.timezone", c.Report.Timezone, add)

	alertsScheduled := strings.TrimSpace(c.Dispatch.AlertSpec) != ""
	if alertsScheduled && len(c.Alerts.Envs) == 0 {
		add("alerts.envs is required when dispatch.alert_spec is set")
	}
	seen := map[notify.Category]bool{}
	for i, e := range c.Alerts.Envs {
		cat, known := notify.ExposureAlertCategory(e.Name)
		switch {
		case strings.TrimSpace(e.Name) == "":
			add("alerts.envs[%d].name is required", i)
		case !known:
			add("alerts.envs[%d].name %q is not one of staging, prod, production", i, e.Name)
		case seen[cat]:
			add("alerts.envs[%d].name %q is duplicated", i, e.Name)
		}
		if known {
			seen[cat] = true
		}
		if err := checkURL(fmt.Sprintf("alerts.envs[%d].base_url", i), e.BaseURL, true); err != "" {
			add("%s", err)
		}
	}
	dur("alerts.dedup_window", c.Alerts.DedupWindow)

	for _, f := range [][2]string{
		{"status.wallet_manager", c.Status.WalletManager},
		{"status.twap", c.Status.TWAP},
		{"status.liquidity_hub", c.Status.LiquidityHub},
		{"status.defi", c.Status.Defi},
	} {
		if err := checkURL(f[0], f[1], false); err != "" {
			add("%s", err)
		}
	}

	if spec := strings.TrimSpace(c.Dispatch.DailySpec); spec != "" {
		if err := dispatch.ParseSpec(spec); err != nil {
			add("dispatch.daily_spec %q: %v", spec, err)
		}
	}
	if alertsScheduled {
		if err := dispatch.ParseSpec(c.Dispatch.AlertSpec); err != nil {
			add("dispatch.alert_spec %q: %v", c.Dispatch.AlertSpec, err)
		}
	}
	checkTZ("dispatch.timezone", c.Dispatch.Timezone, add)
	if _, err := ParseIntervalField("dispatch.send_interval", c.Dispatch.SendInterval); err != nil {
		probs = append(probs, err.Error())
	}
	dur("dispatch.job_timeout", c.Dispatch.JobTimeout)

	if len(probs) > 0 {
		return &ConfigurationError{Problems: probs}
	}
	return nil
}

func checkURL(path, raw string, required bool) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return path + " is required"
		}
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Sprintf("%s: %q is not an http(s) URL", path, raw)
	}
	return ""
}

func checkTZ(path, tz string, add func(string, ...any)) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return
	}
	if _, err := time.LoadLocation(tz); err != nil {
		add("%s %q: %v", path, tz, err)
	}
}
