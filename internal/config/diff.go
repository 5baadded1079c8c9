package config

import (
	"reflect"
	"sort"
	"strings"

	logx "prijswacht/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		strings.TrimSpace(oldCfg.Telegram.SendTimeout) != strings.TrimSpace(newCfg.Telegram.SendTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.send_timeout", strings.TrimSpace(newCfg.Telegram.SendTimeout)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Diag (never log token)
	if oldCfg.Diag.Enabled != newCfg.Diag.Enabled ||
		strings.TrimSpace(oldCfg.Diag.Addr) != strings.TrimSpace(newCfg.Diag.Addr) ||
		strings.TrimSpace(oldCfg.Diag.Prefix) != strings.TrimSpace(newCfg.Diag.Prefix) ||
		oldCfg.Diag.AllowInsecure != newCfg.Diag.AllowInsecure ||
		strings.TrimSpace(oldCfg.Diag.ReadTimeout) != strings.TrimSpace(newCfg.Diag.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Diag.WriteTimeout) != strings.TrimSpace(newCfg.Diag.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Diag.IdleTimeout) != strings.TrimSpace(newCfg.Diag.IdleTimeout) ||
		oldCfg.Diag.MutexProfileFraction != newCfg.Diag.MutexProfileFraction ||
		oldCfg.Diag.BlockProfileRate != newCfg.Diag.BlockProfileRate ||
		oldCfg.Diag.MemProfileRate != newCfg.Diag.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Diag.Token) != "") != (strings.TrimSpace(newCfg.Diag.Token) != "") {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", strings.TrimSpace(newCfg.Diag.Addr)),
			logx.String("diag.prefix", strings.TrimSpace(newCfg.Diag.Prefix)),
			logx.Bool("diag.token_set", strings.TrimSpace(newCfg.Diag.Token) != ""),
			logx.Bool("diag.allow_insecure", newCfg.Diag.AllowInsecure),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) ||
		oldCfg.Storage.MaxConnections != newCfg.Storage.MaxConnections {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
			logx.Int("storage.max_connections", newCfg.Storage.MaxConnections),
		)
	}

	// Source
	if strings.TrimSpace(oldCfg.Source.BaseURL) != strings.TrimSpace(newCfg.Source.BaseURL) ||
		strings.TrimSpace(oldCfg.Source.Timeout) != strings.TrimSpace(newCfg.Source.Timeout) ||
		oldCfg.Source.RetryMax != newCfg.Source.RetryMax {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.base_url", strings.TrimSpace(newCfg.Source.BaseURL)),
			logx.String("source.timeout", strings.TrimSpace(newCfg.Source.Timeout)),
			logx.Int("source.retry_max", newCfg.Source.RetryMax),
		)
	}

	// Poller
	if oldCfg.Poller.Enabled != newCfg.Poller.Enabled ||
		strings.TrimSpace(oldCfg.Poller.Tick) != strings.TrimSpace(newCfg.Poller.Tick) ||
		oldCfg.Poller.Slices != newCfg.Poller.Slices ||
		strings.TrimSpace(oldCfg.Poller.Timezone) != strings.TrimSpace(newCfg.Poller.Timezone) {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Bool("poller.enabled", newCfg.Poller.Enabled),
			logx.String("poller.tick", strings.TrimSpace(newCfg.Poller.Tick)),
			logx.Int("poller.slices", newCfg.Poller.Slices),
			logx.String("poller.timezone", strings.TrimSpace(newCfg.Poller.Timezone)),
		)
	}

	// Retune. Section may be nil (omitted); treat nil as runtime defaults so the
	// summary reflects effective behavior.
	defR := &RetuneConfig{Enabled: true, Schedule: "0 * * * *", Window: "24h"}
	oldR := oldCfg.Retune
	newR := newCfg.Retune
	if oldR == nil {
		oldR = defR
	}
	if newR == nil {
		newR = defR
	}
	if !reflect.DeepEqual(*oldR, *newR) {
		changed = append(changed, "retune")
		attrs = append(attrs,
			logx.Bool("retune.enabled", newR.Enabled),
			logx.String("retune.schedule", strings.TrimSpace(newR.Schedule)),
			logx.String("retune.window", strings.TrimSpace(newR.Window)),
		)
	}

	// Notify
	defN := &NotifyConfig{RatePerSec: 3}
	oldN := oldCfg.Notify
	newN := newCfg.Notify
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.Int("notify.rate_per_sec", newN.RatePerSec))
	}

	// Audit
	defA := &AuditConfig{QueueSize: 256}
	oldA := oldCfg.Audit
	newA := newCfg.Audit
	if oldA == nil {
		oldA = defA
	}
	if newA == nil {
		newA = defA
	}
	if !reflect.DeepEqual(*oldA, *newA) {
		changed = append(changed, "audit")
		attrs = append(attrs, logx.Int("audit.queue_size", newA.QueueSize))
	}

	sort.Strings(changed)
	return changed, attrs
}
