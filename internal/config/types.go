package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("15s", "1h") parsed by ParseDurationField.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Backends BackendsConfig `json:"backends"`
	Report   ReportConfig   `json:"report"`
	Alerts   AlertsConfig   `json:"alerts"`
	Status   StatusConfig   `json:"status"`
	Dispatch DispatchConfig `json:"dispatch"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	// Token falls back to $STATUSBOT_TELEGRAM_TOKEN when empty.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// OpsChatID receives mirrored WARN+ log lines when logging.telegram is enabled.
	OpsChatID int64 `json:"ops_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./statusbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // none|memory|file|sqlite|postgres|redis
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type BackendsConfig struct {
	HTTPTimeout string `json:"http_timeout"` // default 15s
}

type ReportConfig struct {
	SearchURL string   `json:"search_url"`
	Envs      []string `json:"envs,omitempty"` // default staging, prod
	Timezone  string   `json:"timezone,omitempty"`
}

type AlertEnv struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

type AlertsConfig struct {
	Envs        []AlertEnv `json:"envs"`
	DedupWindow string     `json:"dedup_window,omitempty"` // default 1h
}

// StatusConfig holds the endpoints of the digest backends. An empty URL
// leaves that category unconfigured.
type StatusConfig struct {
	WalletManager string `json:"wallet_manager,omitempty"`
	TWAP          string `json:"twap,omitempty"`
	LiquidityHub  string `json:"liquidity_hub,omitempty"`
	Defi          string `json:"defi,omitempty"`
}

type DispatchConfig struct {
	DailySpec string `json:"daily_spec,omitempty"`
	AlertSpec string `json:"alert_spec,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	// SendInterval paces consecutive sends. "off" disables pacing.
	SendInterval string `json:"send_interval,omitempty"`
	JobTimeout   string `json:"job_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}
