package models

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
	ClickHouse DatabaseType = "clickhouse"
)

type DatabaseConfig struct {
	Type     DatabaseType `yaml:"type" json:"type"`
	DSN      string       `yaml:"dsn,omitempty" json:"dsn,omitzero"`
	Host     string       `yaml:"host,omitempty" json:"host,omitzero"`
	Port     int          `yaml:"port,omitempty" json:"port,omitzero"`
	Username string       `yaml:"username,omitempty" json:"username,omitzero"`
	Password string       `yaml:"password,omitempty" json:"password,omitzero"`
	Database string       `yaml:"database" json:"database"`
	SSLMode  string       `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitzero"`
	FilePath string       `yaml:"file_path,omitempty" json:"file_path,omitzero"`

	MaxOpenConns    int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitzero"`
	MaxIdleConns    int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitzero"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitzero"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string `json:"port,omitzero" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins,omitzero" yaml:"allowed_origins"`
	Environment    string `json:"environment,omitzero" yaml:"environment"`
	LogLevel       string `json:"log_level,omitzero" yaml:"log_level"`
	AdminToken     string `json:"-" yaml:"admin_token"`
}

// AmnestyPolicy controls which health states the daily reset forgives.
type AmnestyPolicy string

const (
	// AmnestyAll trusts every credential again at the day rollover,
	// including ones that failed authentication yesterday.
	AmnestyAll AmnestyPolicy = "all"
	// AmnestyQuotaOnly forgives rate/quota states but leaves
	// authentication failures flagged until an administrator intervenes.
	AmnestyQuotaOnly AmnestyPolicy = "quota_only"
)

// CredentialsConfig tunes selection and accounting behavior.
type CredentialsConfig struct {
	// Amnesty decides whether the daily reset clears `error` credentials too.
	Amnesty AmnestyPolicy `yaml:"amnesty" json:"amnesty"`
	// PreciseRateWindow switches the selector from the daily-counter modulo
	// heuristic to a true sliding-window check.
	PreciseRateWindow bool `yaml:"precise_rate_window" json:"precise_rate_window"`
	// SweepInterval is how often the background reset sweep runs, in minutes.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" json:"sweep_interval_minutes"`
}

// RetryConfig tunes the call executor.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries" json:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms" json:"max_delay_ms"`
	TimeoutMs   int `yaml:"timeout_ms" json:"timeout_ms"`
}

// UsageLogConfig tunes the fire-and-forget usage sink. Database, when set,
// points the sink at its own store (a ClickHouse instance in analytics
// deployments) instead of the main gateway database.
type UsageLogConfig struct {
	Enabled    bool            `yaml:"enabled" json:"enabled"`
	PoolSize   int             `yaml:"pool_size" json:"pool_size"`
	BufferSize int             `yaml:"buffer_size" json:"buffer_size"`
	Database   *DatabaseConfig `yaml:"database,omitempty" json:"database,omitzero"`
}

// CircuitBreakerConfig tunes the optional per-provider breaker.
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	RedisURL         string `yaml:"redis_url" json:"redis_url,omitzero"`
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold" json:"success_threshold"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}
