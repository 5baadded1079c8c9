package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/config"
	"prijswacht/internal/observability/diag"
	"prijswacht/internal/scheduler"
	"prijswacht/internal/storage"
	"prijswacht/internal/transport/telegram"
)

// validateConfig rejects configs that would map into broken components. Run
// on the initial load and on every hot-reload candidate before commit.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSourceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapRetuneConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	if cfg.Notify != nil && cfg.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	if cfg.Audit != nil && cfg.Audit.QueueSize < 0 {
		return fmt.Errorf("audit.queue_size must be >= 0")
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 30*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	if cfg.Storage.MaxConnections < 0 {
		return storage.Config{}, fmt.Errorf("storage.max_connections must be >= 0")
	}
	return storage.Config{
		Path:           strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout:    busy,
		MaxConnections: cfg.Storage.MaxConnections,
	}, nil
}

type sourceSettings struct {
	baseURL  string
	timeout  time.Duration
	retryMax int
}

func mapSourceConfig(cfg *config.Config) (sourceSettings, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 10*time.Second)
	if err != nil {
		return sourceSettings{}, err
	}
	if cfg.Source.RetryMax < 0 {
		return sourceSettings{}, fmt.Errorf("source.retry_max must be >= 0")
	}
	return sourceSettings{
		baseURL:  strings.TrimSpace(cfg.Source.BaseURL),
		timeout:  timeout,
		retryMax: cfg.Source.RetryMax,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	sendTO, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		SendTimeout: sendTO,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("poller.tick", cfg.Poller.Tick, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.Poller.Slices < 0 {
		return scheduler.Config{}, fmt.Errorf("poller.slices must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Poller.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Tick: tick, Slices: cfg.Poller.Slices}, nil
}

// mapRetuneConfig reports (config, enabled, error). An omitted retune section
// means enabled with defaults.
func mapRetuneConfig(cfg *config.Config) (scheduler.RetuneConfig, bool, error) {
	rc := cfg.Retune
	if rc == nil {
		rc = &config.RetuneConfig{Enabled: true}
	}

	schedule := strings.TrimSpace(rc.Schedule)
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return scheduler.RetuneConfig{}, false, fmt.Errorf("retune.schedule: invalid %q: %w", schedule, err)
		}
	}
	window, err := config.ParseDurationOrDefault("retune.window", rc.Window, 24*time.Hour)
	if err != nil {
		return scheduler.RetuneConfig{}, false, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Poller.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.RetuneConfig{}, false, fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}

	return scheduler.RetuneConfig{
		Schedule: schedule,
		Window:   window,
		Location: loc,
	}, rc.Enabled, nil
}

func notifyRate(cfg *config.Config) float64 {
	if cfg.Notify == nil || cfg.Notify.RatePerSec <= 0 {
		return 3
	}
	return float64(cfg.Notify.RatePerSec)
}

func auditQueueSize(cfg *config.Config) int {
	if cfg.Audit == nil {
		return 0 // worker default
	}
	return cfg.Audit.QueueSize
}

// mapDiagConfig validates and converts the diag section. It never starts the
// server.
func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	var out diag.Config
	dc := cfg.Diag

	out.Enabled = dc.Enabled
	out.AllowInsecure = dc.AllowInsecure
	out.Token = strings.TrimSpace(dc.Token)
	out.Addr = strings.TrimSpace(dc.Addr)
	out.Prefix = strings.TrimSpace(dc.Prefix)

	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	readTO, err := config.ParseDurationOrDefault("diag.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := config.ParseDurationField("diag.write_timeout", dc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("diag.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO // default 0 (disabled) so long profile streams work
	out.IdleTimeout = idleTO

	if dc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("diag.mutex_profile_fraction must be >= 0")
	}
	if dc.BlockProfileRate < 0 {
		return out, fmt.Errorf("diag.block_profile_rate must be >= 0")
	}
	if dc.MemProfileRate < 0 {
		return out, fmt.Errorf("diag.mem_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = dc.MutexProfileFraction
	out.BlockProfileRate = dc.BlockProfileRate
	out.MemProfileRate = dc.MemProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("diag.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		// Refuse public bind without explicit opt-in.
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("diag: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}

	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
