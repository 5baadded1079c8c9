package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Diag     DiagConfig     `json:"diag,omitempty"`

	// Storage controls the SQLite catalog store and its connection pool.
	Storage StorageConfig `json:"storage"`

	// Source controls the outbound catalog fetcher.
	Source SourceConfig `json:"source,omitempty"`

	// Poller controls the query polling loop.
	Poller PollerConfig `json:"poller"`

	// Retune controls the adaptive interval maintenance job.
	// If omitted, retune defaults to enabled with an hourly schedule.
	Retune *RetuneConfig `json:"retune,omitempty"`

	// Notify controls notification delivery pacing.
	Notify *NotifyConfig `json:"notify,omitempty"`

	// Audit controls the background execution-record writer.
	Audit *AuditConfig `json:"audit,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// SendTimeout bounds a single Bot API call. Go duration string.
	// Defaults to "10s" when omitted.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Defaults (when fields are omitted/zero):
//   - path: "./prijswacht.db"
//   - busy_timeout: "30s"
//   - max_connections: 5
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string applied as the sqlite busy_timeout pragma.
	BusyTimeout    string `json:"busy_timeout,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty"`
}

// SourceConfig controls the outbound catalog fetcher.
//
// Defaults (when fields are omitted/zero):
//   - base_url: "https://www.lidl.nl"
//   - timeout: "10s" (per page request)
//   - retry_max: 3 (attempts per page)
//
// BaseURL is overridable so tests and probes can point at a local server.
type SourceConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
}

// PollerConfig controls the query polling loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: "60s"
//   - slices: 6 (the tick sleep is cut into this many stop-checks)
type PollerConfig struct {
	Enabled bool   `json:"enabled"`
	Tick    string `json:"tick,omitempty"`
	Slices  int    `json:"slices,omitempty"`

	// Timezone applies to the retune cron schedule and to logged timestamps
	// of query runs. Defaults to the host timezone.
	Timezone string `json:"timezone,omitempty"`
}

// RetuneConfig controls the adaptive interval maintenance job.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "0 * * * *" (hourly)
//   - window: "24h" (price activity considered per query)
type RetuneConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Window   string `json:"window,omitempty"`
}

// NotifyConfig controls delivery pacing.
//
// Defaults (when the section is omitted): rate_per_sec: 3.
type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec"`
}

// AuditConfig controls the background execution-record writer.
//
// Defaults (when the section is omitted): queue_size: 256.
type AuditConfig struct {
	QueueSize int `json:"queue_size"`
}

// DiagConfig controls the optional diagnostics HTTP server
// (pprof, /metrics, /healthz).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
