package config

import "reflect"

// ChangedSections names the top-level sections that differ between two
// configs. restart lists the subset that only takes effect after a restart;
// only logging is applied live.
func ChangedSections(oldCfg, newCfg *Config) (changed, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"backends", oldCfg.Backends, newCfg.Backends},
		{"report", oldCfg.Report, newCfg.Report},
		{"alerts", oldCfg.Alerts, newCfg.Alerts},
		{"status", oldCfg.Status, newCfg.Status},
		{"dispatch", oldCfg.Dispatch, newCfg.Dispatch},
		{"metrics", oldCfg.Metrics, newCfg.Metrics},
	}
	for _, s := range sections {
		if reflect.DeepEqual(s.old, s.new) {
			continue
		}
		changed = append(changed, s.name)
		if s.name != "logging" {
			restart = append(restart, s.name)
		}
	}
	return changed, restart
}
