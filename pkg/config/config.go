package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/logger"
)

// Config represents the complete configuration for geyserpipe.
type Config struct {
	// Pipeline contains the intake and staging configuration
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" toml:"pipeline"`

	// Store contains the durable store configuration
	Store StoreConfig `yaml:"store" json:"store" toml:"store"`

	// Broadcast contains the subscriber fanout configuration
	Broadcast BroadcastConfig `yaml:"broadcast" json:"broadcast" toml:"broadcast"`

	// Feed contains the optional socket feed adapter configuration
	Feed *FeedConfig `yaml:"feed,omitempty" json:"feed,omitempty" toml:"feed,omitempty"`

	// API contains the optional HTTP API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// PipelineConfig configures the intake handoff and the fork-aware staging buffer.
type PipelineConfig struct {
	// IntakeQueueSize is the capacity of the bounded handoff channel between
	// the host notifier and the staging worker
	IntakeQueueSize int `yaml:"intake_queue_size" json:"intake_queue_size" toml:"intake_queue_size"`

	// EnqueueWait is the total time budget the intake may spend retrying a
	// full handoff channel before declaring fatal overload
	EnqueueWait common.Duration `yaml:"enqueue_wait" json:"enqueue_wait" toml:"enqueue_wait"`

	// RetentionSlots is how far behind the highest rooted slot an unresolved
	// slot record may fall before it is evicted
	RetentionSlots uint64 `yaml:"retention_slots" json:"retention_slots" toml:"retention_slots"`

	// CommitQueueSize is the depth of the promotion channel feeding the commit sink
	CommitQueueSize int `yaml:"commit_queue_size" json:"commit_queue_size" toml:"commit_queue_size"`

	// BroadcastQueueSize is the depth of the promotion channel feeding the broadcaster
	BroadcastQueueSize int `yaml:"broadcast_queue_size" json:"broadcast_queue_size" toml:"broadcast_queue_size"`

	// StartupBatchSize is how many startup-snapshot updates are grouped into
	// one bulk-load batch for the commit sink
	StartupBatchSize int `yaml:"startup_batch_size" json:"startup_batch_size" toml:"startup_batch_size"`
}

// ApplyDefaults sets default values for optional pipeline configuration fields.
func (p *PipelineConfig) ApplyDefaults() {
	if p.IntakeQueueSize == 0 {
		p.IntakeQueueSize = 8192
	}
	if p.EnqueueWait.Duration == 0 {
		p.EnqueueWait = common.NewDuration(50 * time.Millisecond)
	}
	if p.RetentionSlots == 0 {
		p.RetentionSlots = 512
	}
	if p.CommitQueueSize == 0 {
		p.CommitQueueSize = 256
	}
	if p.BroadcastQueueSize == 0 {
		p.BroadcastQueueSize = 256
	}
	if p.StartupBatchSize == 0 {
		p.StartupBatchSize = 1024
	}
}

// StoreConfig represents the durable store configuration.
type StoreConfig struct {
	// Driver selects the store backend: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver" toml:"driver"`

	// Path is the file path to the SQLite database (sqlite driver only)
	Path string `yaml:"path" json:"path" toml:"path"`

	// URL is the Postgres connection string (postgres driver only)
	URL string `yaml:"url" json:"url" toml:"url"`

	// BatchSize is the maximum number of committed updates written per transaction
	BatchSize int `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// Retry contains write retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the SQLite synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the SQLite busy timeout in milliseconds
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// DriverSQLite and DriverPostgres are the supported store backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ApplyDefaults sets default values for optional store configuration fields.
func (s *StoreConfig) ApplyDefaults() {
	if s.Driver == "" {
		s.Driver = DriverSQLite
	}
	if s.BatchSize == 0 {
		s.BatchSize = 512
	}
	if s.JournalMode == "" {
		s.JournalMode = "WAL"
	}
	if s.Synchronous == "" {
		s.Synchronous = "NORMAL"
	}
	if s.BusyTimeout == 0 {
		s.BusyTimeout = 5000
	}
	if s.MaxOpenConnections == 0 {
		s.MaxOpenConnections = 25
	}
	if s.MaxIdleConnections == 0 {
		s.MaxIdleConnections = 5
	}
	if s.Retry == nil {
		s.Retry = &RetryConfig{}
	}
	s.Retry.ApplyDefaults()
}

// Validate checks if the store configuration is valid.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if s.URL == "" {
			return fmt.Errorf("store.url is required for the postgres driver")
		}
		if _, err := url.Parse(s.URL); err != nil {
			return fmt.Errorf("store.url is not a valid connection string: %w", err)
		}
	default:
		return fmt.Errorf("store.driver must be one of: sqlite, postgres")
	}

	if s.JournalMode != "" && s.JournalMode != "WAL" &&
		s.JournalMode != "DELETE" && s.JournalMode != "TRUNCATE" &&
		s.JournalMode != "PERSIST" && s.JournalMode != "MEMORY" {
		return fmt.Errorf("store.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if s.Synchronous != "" && s.Synchronous != "FULL" &&
		s.Synchronous != "NORMAL" && s.Synchronous != "OFF" {
		return fmt.Errorf("store.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// RetryConfig represents write retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Slow-subscriber policies.
const (
	SlowPolicyDropOldest = "drop_oldest"
	SlowPolicyDisconnect = "disconnect"
)

// BroadcastConfig configures subscriber fanout and backpressure handling.
type BroadcastConfig struct {
	// SubscriberQueueSize is the capacity of each subscriber's outbound queue
	SubscriberQueueSize int `yaml:"subscriber_queue_size" json:"subscriber_queue_size" toml:"subscriber_queue_size"`

	// SlowPolicy is applied when a subscriber queue is full:
	// "drop_oldest" evicts the oldest queued update, "disconnect" removes the
	// subscriber after DisconnectGrace of sustained fullness
	SlowPolicy string `yaml:"slow_policy" json:"slow_policy" toml:"slow_policy"`

	// DisconnectGrace is how long a subscriber may stay saturated before a
	// forced disconnect (disconnect policy only)
	DisconnectGrace common.Duration `yaml:"disconnect_grace" json:"disconnect_grace" toml:"disconnect_grace"`
}

// ApplyDefaults sets default values for optional broadcast configuration fields.
func (b *BroadcastConfig) ApplyDefaults() {
	if b.SubscriberQueueSize == 0 {
		b.SubscriberQueueSize = 100
	}
	if b.SlowPolicy == "" {
		b.SlowPolicy = SlowPolicyDropOldest
	}
	if b.DisconnectGrace.Duration == 0 {
		b.DisconnectGrace = common.NewDuration(10 * time.Second) //nolint:mnd
	}
}

// Validate checks if the broadcast configuration is valid.
func (b *BroadcastConfig) Validate() error {
	if b.SlowPolicy != SlowPolicyDropOldest && b.SlowPolicy != SlowPolicyDisconnect {
		return fmt.Errorf("broadcast.slow_policy must be one of: drop_oldest, disconnect")
	}
	return nil
}

// FeedConfig configures the socket feed adapter that forwards validator
// notifications into the notifier interface.
type FeedConfig struct {
	// Enabled controls whether the feed listener runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Network is the listener network: "tcp" or "unix"
	Network string `yaml:"network" json:"network" toml:"network"`

	// ListenAddress is the address or socket path to listen on
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
}

// ApplyDefaults sets default values for optional feed configuration fields.
func (f *FeedConfig) ApplyDefaults() {
	if f.Network == "" {
		f.Network = "tcp"
	}
	if f.ListenAddress == "" {
		f.ListenAddress = "127.0.0.1:9898"
	}
}

// Validate checks if the feed configuration is valid.
func (f *FeedConfig) Validate() error {
	if f.Network != "tcp" && f.Network != "unix" {
		return fmt.Errorf("feed.network must be one of: tcp, unix")
	}
	if f.Enabled && f.ListenAddress == "" {
		return fmt.Errorf("feed.listen_address is required when the feed is enabled")
	}
	return nil
}

// CORSConfig configures cross-origin request handling on the API.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// AllowedOrigins lists the origins allowed to call the API
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// APIConfig configures the HTTP API and streaming endpoint.
type APIConfig struct {
	// Enabled controls whether the API server runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// It does not apply to the streaming endpoint, which hijacks the connection.
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross-origin request handling
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - intake: Host notifier intake
	//   - staging: Staging buffer and finality resolver
	//   - commit-sink: Durable store writer
	//   - broadcaster: Subscriber fanout
	//   - pipeline: Pipeline orchestration
	//   - store: Store queries
	//   - api: HTTP API
	//   - feed: Socket feed adapter
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	// Validate default level
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		// Check if component is valid
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		// Check if level is valid
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Pipeline.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Broadcast.ApplyDefaults()

	if c.Feed != nil {
		c.Feed.ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Pipeline.IntakeQueueSize < 0 {
		return fmt.Errorf("pipeline.intake_queue_size must be positive")
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if err := c.Broadcast.Validate(); err != nil {
		return err
	}

	if c.Feed != nil {
		if err := c.Feed.Validate(); err != nil {
			return err
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
