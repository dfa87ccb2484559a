package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by Default() and for zero fields after Load.
const (
	DefaultAuthTimeout             = 15 // seconds
	DefaultBrokerAddress           = "127.0.0.1:9393"
	DefaultFeedLockTimeout         = 0 // seconds; 0 = single attempt
	DefaultMemWaitRetries          = 30
	DefaultScannerConnectionRetry  = 3
	DefaultScheduleTimeout         = 1 // minutes
	DefaultSchedulePeriod          = 10 * time.Second
	DefaultScanPollInterval        = 25 * time.Second
	DefaultReportImportBatch       = 10
	DefaultStateDir                = "/var/lib/vigil"
	DefaultFeedDir                 = "/var/lib/vigil/feed"
)

// Config holds every tunable of the controller daemon.
type Config struct {
	// AuthTimeout is the number of seconds allowed for connecting to
	// and authenticating with a scanner before the attempt is abandoned.
	AuthTimeout int `yaml:"auth_timeout"`

	// BrokerAddress is the listen address of the controller's HTTP
	// surface (metrics, health, event stream).
	BrokerAddress string `yaml:"broker_address"`

	// FeedLockPath is the advisory lock file serialising feed updates.
	// Empty means <state_dir>/feed-update.lock.
	FeedLockPath string `yaml:"feed_lock_path"`

	// FeedLockTimeout is the number of seconds to keep retrying the
	// feed lock before reporting the feed as busy. 0 tries exactly once.
	FeedLockTimeout int `yaml:"feed_lock_timeout"`

	// MinMemFeedUpdate is the amount of free physical memory, in MiB,
	// required before a feed sync may begin. 0 disables the check.
	MinMemFeedUpdate int `yaml:"min_mem_feed_update"`

	// MemWaitRetries is how many ticks the coordinator waits for the
	// memory check to pass before giving up on the sync attempt.
	MemWaitRetries int `yaml:"mem_wait_retries"`

	// MaxConcurrentScanUpdates caps how many scans may be started or
	// actively updated at once. 0 or negative means unlimited.
	MaxConcurrentScanUpdates int `yaml:"max_concurrent_scan_updates"`

	// MaxDatabaseConnections caps concurrent store sessions handed to
	// workers. 0 or negative means unlimited.
	MaxDatabaseConnections int `yaml:"max_database_connections"`

	// MaxConcurrentReportProcessing caps reports imported in parallel.
	// 0 or negative means unlimited.
	MaxConcurrentReportProcessing int `yaml:"max_concurrent_report_processing"`

	// ScannerConnectionRetry is how many times a scanner connection is
	// attempted before the scanner is reported unreachable.
	ScannerConnectionRetry int `yaml:"scanner_connection_retry"`

	// ScheduleTimeout is the number of minutes a scheduled start may be
	// overdue and still fire. 0 or negative disables the check.
	ScheduleTimeout int `yaml:"schedule_timeout"`

	// RelayMapperPath is the executable that maps a scanner address to
	// its relay for sensor scanners. Empty disables relay mapping.
	RelayMapperPath string `yaml:"relay_mapper_path"`

	// StateDir holds the database, lock files and runtime state.
	StateDir string `yaml:"state_dir"`

	// FeedDir is the root of the synchronised feed data
	// (<feed_dir>/nvt, <feed_dir>/scap, <feed_dir>/cert, <feed_dir>/data-objects).
	FeedDir string `yaml:"feed_dir"`

	// SchedulePeriod is the main loop tick interval.
	SchedulePeriod time.Duration `yaml:"schedule_period"`

	// ScanPollInterval is how often a running scan is polled for
	// status and new results.
	ScanPollInterval time.Duration `yaml:"scan_poll_interval"`

	// ReportImportBatch is how many queued reports one tick may claim.
	ReportImportBatch int `yaml:"report_import_batch"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output from console to JSON.
	LogJSON bool `yaml:"log_json"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		AuthTimeout:            DefaultAuthTimeout,
		BrokerAddress:          DefaultBrokerAddress,
		FeedLockTimeout:        DefaultFeedLockTimeout,
		MemWaitRetries:         DefaultMemWaitRetries,
		ScannerConnectionRetry: DefaultScannerConnectionRetry,
		ScheduleTimeout:        DefaultScheduleTimeout,
		SchedulePeriod:         DefaultSchedulePeriod,
		ScanPollInterval:       DefaultScanPollInterval,
		ReportImportBatch:      DefaultReportImportBatch,
		StateDir:               DefaultStateDir,
		FeedDir:                DefaultFeedDir,
		LogLevel:               "info",
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Clamp()
	return cfg, nil
}

// Clamp normalises out-of-range values instead of rejecting them.
// Negative capacities mean unlimited, negative timeouts mean disabled.
func (c *Config) Clamp() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.BrokerAddress == "" {
		c.BrokerAddress = DefaultBrokerAddress
	}
	if c.FeedLockTimeout < 0 {
		c.FeedLockTimeout = 0
	}
	if c.MinMemFeedUpdate < 0 {
		c.MinMemFeedUpdate = 0
	}
	if c.MemWaitRetries < 0 {
		c.MemWaitRetries = 0
	}
	if c.MaxConcurrentScanUpdates < 0 {
		c.MaxConcurrentScanUpdates = 0
	}
	if c.MaxDatabaseConnections < 0 {
		c.MaxDatabaseConnections = 0
	}
	if c.MaxConcurrentReportProcessing < 0 {
		c.MaxConcurrentReportProcessing = 0
	}
	if c.ScannerConnectionRetry < 1 {
		c.ScannerConnectionRetry = 1
	}
	if c.ScheduleTimeout < 0 {
		c.ScheduleTimeout = 0
	}
	if c.SchedulePeriod <= 0 {
		c.SchedulePeriod = DefaultSchedulePeriod
	}
	if c.ScanPollInterval <= 0 {
		c.ScanPollInterval = DefaultScanPollInterval
	}
	if c.ReportImportBatch <= 0 {
		c.ReportImportBatch = DefaultReportImportBatch
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.FeedDir == "" {
		c.FeedDir = DefaultFeedDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// FeedLock returns the effective feed lock file path.
func (c *Config) FeedLock() string {
	if c.FeedLockPath != "" {
		return c.FeedLockPath
	}
	return filepath.Join(c.StateDir, "feed-update.lock")
}

// DatabasePath returns the bbolt database file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "vigil.db")
}

// ReportLockPath returns the per-report import lock file path.
func (c *Config) ReportLockPath(reportID string) string {
	return filepath.Join(c.StateDir, "vigil-process-report-"+reportID+".lock")
}

// FeedTypeDir returns the on-disk directory of one feed.
func (c *Config) FeedTypeDir(feed string) string {
	return filepath.Join(c.FeedDir, feed)
}
