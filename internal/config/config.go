package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
)

type (
	// Config holds configuration settings for the orchestrator
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores & Archiving
		EngineStore   timebox.StoreConfig
		FlowStore     timebox.StoreConfig
		TopologyStore timebox.StoreConfig
		ArchiveURL    string

		// Activity execution
		JobServiceURL   string
		ActivityTimeout int64
		PollInterval    int64

		// Remediation watcher. An empty SignalFeedURL disables the watcher
		SignalFeedURL string
		Watch         WatchConfig

		// Engine
		FlowCacheSize   int
		ShutdownTimeout time.Duration
	}

	// WatchConfig tunes the remediation watcher. ConfirmCycles is the
	// number of consecutive poll cycles a host must stay unhealthy before
	// its suspicion is confirmed. EscalationCycles caps how long a
	// confirmed host may wait for a healthy recovery signal before a
	// remediation ticket is forced; zero disables the bound
	WatchConfig struct {
		PollInterval     time.Duration
		ConfirmCycles    int
		Cooldown         time.Duration
		EscalationCycles int
	}
)

const (
	DefaultActivityTimeout = 5 * api.Minute
	DefaultPollInterval    = 2 * api.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "flotilla"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096

	DefaultJobServiceURL = "http://localhost:9090"
	DefaultArchiveURL    = ""
	DefaultSignalFeedURL = ""

	DefaultWatchPollInterval  = 30 * time.Second
	DefaultWatchConfirmCycles = 3
	DefaultWatchCooldown      = 15 * time.Minute
	DefaultEscalationCycles   = 0

	MaxFlowCacheSize    = 1_000_000
	MaxActivityTimeout  = 365 * 24 * 60 * api.Minute // 1 year in ms
	MaxPollInterval     = 24 * 60 * api.Minute       // 1 day in ms
	MaxWatchCycles      = 1_000_000
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidActivityTimeout = errors.New(
		"activity timeout must be positive",
	)
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
	ErrInvalidWatchPoll    = errors.New(
		"watch poll interval must be positive",
	)
	ErrInvalidConfirmCycles = errors.New(
		"watch confirm cycles must be positive",
	)
	ErrInvalidEscalation = errors.New(
		"escalation cycles cannot be negative",
	)
	ErrInvalidCooldown = errors.New("watch cooldown cannot be negative")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, stores, and the remediation watcher
func NewDefaultConfig() *Config {
	return &Config{
		APIPort: DefaultAPIPort,
		APIHost: DefaultAPIHost,
		EngineStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			TrimEvents:   true,
		},
		FlowStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			JoinKey:      events.FlowJoinKey,
			ParseKey:     events.FlowParseKey,
		},
		TopologyStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		ArchiveURL:      DefaultArchiveURL,
		JobServiceURL:   DefaultJobServiceURL,
		SignalFeedURL:   DefaultSignalFeedURL,
		ActivityTimeout: DefaultActivityTimeout,
		PollInterval:    DefaultPollInterval,
		Watch: WatchConfig{
			PollInterval:     DefaultWatchPollInterval,
			ConfirmCycles:    DefaultWatchConfirmCycles,
			Cooldown:         DefaultWatchCooldown,
			EscalationCycles: DefaultEscalationCycles,
		},
		FlowCacheSize:   DefaultCacheSize,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.EngineStore, "ENGINE")
	LoadStoreConfigFromEnv(&c.FlowStore, "FLOW")
	LoadStoreConfigFromEnv(&c.TopologyStore, "TOPOLOGY")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if jobURL := os.Getenv("JOB_SERVICE_URL"); jobURL != "" {
		c.JobServiceURL = jobURL
	}
	if archiveURL := os.Getenv("ARCHIVE_URL"); archiveURL != "" {
		c.ArchiveURL = archiveURL
	}
	if feedURL := os.Getenv("SIGNAL_FEED_URL"); feedURL != "" {
		c.SignalFeedURL = feedURL
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"FLOW_CACHE_SIZE", &c.FlowCacheSize, 0, MaxFlowCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ACTIVITY_TIMEOUT", &c.ActivityTimeout, 0, MaxActivityTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"POLL_INTERVAL", &c.PollInterval, 0, MaxPollInterval,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"WATCH_POLL_INTERVAL", &c.Watch.PollInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"WATCH_COOLDOWN", &c.Watch.Cooldown,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WATCH_CONFIRM_CYCLES", &c.Watch.ConfirmCycles, 0, MaxWatchCycles,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WATCH_ESCALATION_CYCLES", &c.Watch.EscalationCycles,
		-1, MaxWatchCycles,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.ActivityTimeout <= 0 {
		return ErrInvalidActivityTimeout
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.Watch.PollInterval <= 0 {
		return ErrInvalidWatchPoll
	}
	if c.Watch.ConfirmCycles <= 0 {
		return ErrInvalidConfirmCycles
	}
	if c.Watch.EscalationCycles < 0 {
		return ErrInvalidEscalation
	}
	if c.Watch.Cooldown < 0 {
		return ErrInvalidCooldown
	}

	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "ENGINE" or "FLOW")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key from the environment and parses it as a
// Go duration string
func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
