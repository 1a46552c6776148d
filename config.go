package dcquery

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/datacommons-io/query-compiler/internal/errprompt"
	"github.com/datacommons-io/query-compiler/internal/hooks"
	"github.com/datacommons-io/query-compiler/internal/sanitize"
	"github.com/datacommons-io/query-compiler/internal/timeout"
)

// Config is the engine's runtime configuration (spec §6, §7). Adapted from
// the original's Config/ServerConfig split: this system has one read-only
// connection role and a fixed set of operations, so pool/timeout/logging
// settings collapse into a single struct.
type Config struct {
	Pool         PoolConfig       `json:"pool"`
	Query        QueryConfig      `json:"query"`
	Logging      LoggingConfig    `json:"logging"`
	Timezone     string           `json:"timezone"`
	ErrorPrompts []errprompt.Rule `json:"error_prompts"`
	Sanitization []sanitize.Rule  `json:"sanitization"`
	AuditHooks   AuditHooksConfig `json:"audit_hooks"`
}

// AuditHooksConfig holds optional external governance hooks run around a
// query's execution (spec §7 enrichment): BeforeExecute can inspect or
// reject the rendered SQL before it reaches the database, AfterExecute can
// inspect or reject the assembled result document.
type AuditHooksConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"`
	BeforeExecute         []hooks.Entry `json:"before_execute"`
	AfterExecute          []hooks.Entry `json:"after_execute"`
}

// runner builds a hooks.Runner from the config, or nil when no hooks are
// configured so Engine can skip the pipeline entirely.
func (c AuditHooksConfig) runner(logger zerolog.Logger) *hooks.Runner {
	if len(c.BeforeExecute) == 0 && len(c.AfterExecute) == 0 {
		return nil
	}
	timeoutSeconds := c.DefaultTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	return hooks.NewRunner(hooks.Config{
		DefaultTimeout: time.Duration(timeoutSeconds) * time.Second,
		BeforeExecute:  c.BeforeExecute,
		AfterExecute:   c.AfterExecute,
	}, logger)
}

// ConnectionConfig holds the five DB_* environment variables (spec §6).
type ConnectionConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Database string `json:"database"`

	// DockerDeployed selects the DB_HOSTNAME default used when running
	// inside the project's own Compose network versus against a host-local
	// Postgres (spec §6).
	DockerDeployed bool `json:"docker_deployed"`
}

// PoolConfig holds pgxpool settings, unchanged in shape from the original.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// QueryConfig holds per-mode statement timeouts (spec §5 concurrency model):
// data/summary queries may legitimately run longer than column_values or
// release_metadata lookups.
type QueryConfig struct {
	DefaultTimeoutSeconds      int `json:"default_timeout_seconds"`
	DataTimeoutSeconds         int `json:"data_timeout_seconds"`
	SummaryTimeoutSeconds      int `json:"summary_timeout_seconds"`
	ColumnValuesTimeoutSeconds int `json:"column_values_timeout_seconds"`
	MaxResultLength            int `json:"max_result_length"`
	MaxConcurrentQueries       int `json:"max_concurrent_queries"`
}

// LoggingConfig mirrors the original's CLI logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// ServerSettings holds HTTP server settings for cmd/dcq serve.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// ServerConfig embeds Config, connection, and server-only settings for CLI
// mode, mirroring the original's Config/ServerConfig split.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
}

// DefaultServerConfig returns the baseline configuration before environment
// overrides are applied (spec §6).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Config: Config{
			Pool: PoolConfig{
				MaxConns:          10,
				MinConns:          2,
				MaxConnLifetime:   "1h",
				MaxConnIdleTime:   "30m",
				HealthCheckPeriod: "1m",
			},
			Query: QueryConfig{
				DefaultTimeoutSeconds:      30,
				DataTimeoutSeconds:         60,
				SummaryTimeoutSeconds:      120,
				ColumnValuesTimeoutSeconds: 15,
				MaxResultLength:            10 * 1024 * 1024,
				MaxConcurrentQueries:       10,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			Timezone: "UTC",
		},
		Connection: ConnectionConfig{
			Port:     5432,
			Database: "data_commons",
		},
		Server: ServerSettings{
			Port:               8080,
			HealthCheckEnabled: true,
			HealthCheckPath:    "/healthz",
		},
	}
}

// OperationKind distinguishes the engine's four operations for timeout
// selection (spec §5). Distinct from ProjectionMode, which only concerns
// data-vs-summary column defaulting.
type OperationKind string

const (
	OpData             OperationKind = "data"
	OpSummary          OperationKind = "summary"
	OpColumnValues     OperationKind = "column_values"
	OpReleaseMetadata  OperationKind = "release_metadata"
)

// timeoutManager builds a timeout.Manager keyed by operation name (spec §5):
// one rule per non-default operation, falling back to DefaultTimeoutSeconds.
func (c QueryConfig) timeoutManager() *timeout.Manager {
	def := c.DefaultTimeoutSeconds
	if def <= 0 {
		def = 30
	}
	var rules []timeout.Rule
	addRule := func(op string, seconds int) {
		if seconds > 0 {
			rules = append(rules, timeout.Rule{Pattern: "^" + op + "$", Timeout: time.Duration(seconds) * time.Second})
		}
	}
	addRule(string(OpData), c.DataTimeoutSeconds)
	addRule(string(OpSummary), c.SummaryTimeoutSeconds)
	addRule(string(OpColumnValues), c.ColumnValuesTimeoutSeconds)
	addRule(string(OpReleaseMetadata), c.ColumnValuesTimeoutSeconds)
	return timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(def) * time.Second,
		Rules:          rules,
	})
}
