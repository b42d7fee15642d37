package app

import (
	"net/http"
	"strings"
	"time"

	"statusbot/internal/alerts"
	"statusbot/internal/config"
	"statusbot/internal/dispatch"
	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/internal/report"
	"statusbot/internal/storage"
	"statusbot/pkg/logx"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultPollTimeout = 10 * time.Second
	defaultBusyTimeout = time.Second
	defaultJobTimeout  = 10 * time.Minute
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.OpsChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		KeyPrefix:   sc.KeyPrefix,
		BusyTimeout: busy,
	}, nil
}

func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	timeout, err := config.ParseDurationOrDefault("backends.http_timeout", cfg.Backends.HTTPTimeout, defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: timeout}, nil
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return report.Config{}, err
		}
		loc = l
	}
	var envs []string
	for _, e := range cfg.Report.Envs {
		if e = strings.TrimSpace(e); e != "" {
			envs = append(envs, e)
		}
	}
	return report.Config{SearchURL: strings.TrimSpace(cfg.Report.SearchURL), Envs: envs, Location: loc}, nil
}

func mapAlertEnvs(cfg *config.Config) []alerts.Env {
	out := make([]alerts.Env, 0, len(cfg.Alerts.Envs))
	for _, e := range cfg.Alerts.Envs {
		out = append(out, alerts.Env{
			Name:    strings.ToLower(strings.TrimSpace(e.Name)),
			BaseURL: strings.TrimRight(strings.TrimSpace(e.BaseURL), "/"),
		})
	}
	return out
}

func statusURLs(cfg *config.Config) map[notify.Category]string {
	return map[notify.Category]string{
		notify.WalletManager:     strings.TrimSpace(cfg.Status.WalletManager),
		notify.TWAP:              strings.TrimSpace(cfg.Status.TWAP),
		notify.LiquidityHub:      strings.TrimSpace(cfg.Status.LiquidityHub),
		notify.DefiNotifications: strings.TrimSpace(cfg.Status.Defi),
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	interval, err := config.ParseIntervalField("dispatch.send_interval", cfg.Dispatch.SendInterval)
	if err != nil {
		return dispatch.Config{}, err
	}
	window, err := config.ParseDurationField("alerts.dedup_window", cfg.Alerts.DedupWindow)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{SendInterval: interval, DedupWindow: window}, nil
}

func mapSchedulerConfig(cfg *config.Config) (dispatch.SchedulerConfig, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.job_timeout", cfg.Dispatch.JobTimeout, defaultJobTimeout)
	if err != nil {
		return dispatch.SchedulerConfig{}, err
	}
	return dispatch.SchedulerConfig{
		DailySpec:  strings.TrimSpace(cfg.Dispatch.DailySpec),
		AlertSpec:  strings.TrimSpace(cfg.Dispatch.AlertSpec),
		Timezone:   strings.TrimSpace(cfg.Dispatch.Timezone),
		JobTimeout: timeout,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) observability.ServerConfig {
	return observability.ServerConfig{Enabled: cfg.Metrics.Enabled, Addr: strings.TrimSpace(cfg.Metrics.Addr)}
}
