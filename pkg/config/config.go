package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinRefreshIntervalSeconds is the floor for the scheduler interval.
	MinRefreshIntervalSeconds = 60

	// DefaultRefreshIntervalSeconds is one hour.
	DefaultRefreshIntervalSeconds = 3600

	// DefaultWriteModeMarkerTTLSeconds is how long an interactive write-mode
	// marker survives without being refreshed.
	DefaultWriteModeMarkerTTLSeconds = 1800
)

// CleanupConfig tunes the snapshot cleanup manager.
type CleanupConfig struct {
	MaxFailures          int     `yaml:"max_failures"`
	BaseBackoffSeconds   int     `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds    int     `yaml:"max_backoff_seconds"`
	FDUsageThreshold     float64 `yaml:"fd_usage_threshold"`
	CheckIntervalSeconds int     `yaml:"check_interval_seconds"`
}

// LogConfig tunes process logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Config holds the full server configuration.
type Config struct {
	// Root is the golden-repository root: masters, snapshots, aliases,
	// locks and markers all live under it.
	Root string `yaml:"root"`

	// DataDir holds the registry database.
	DataDir string `yaml:"data_dir"`

	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`

	// External process timeouts, in seconds.
	CowCloneTimeout         int `yaml:"cow_clone_timeout"`
	GitCommandTimeout       int `yaml:"git_command_timeout"`
	GitUpdateIndexTimeout   int `yaml:"git_update_index_timeout"`
	GitRestoreTimeout       int `yaml:"git_restore_timeout"`
	CidxFixConfigTimeout    int `yaml:"cidx_fix_config_timeout"`
	CidxIndexTimeout        int `yaml:"cidx_index_timeout"`
	CidxScipGenerateTimeout int `yaml:"cidx_scip_generate_timeout"`

	// Cross-repository search.
	MultiSearchMaxWorkers     int `yaml:"multi_search_max_workers"`
	MultiSearchTimeoutSeconds int `yaml:"multi_search_timeout_seconds"`

	Cleanup CleanupConfig `yaml:"cleanup"`

	WriteModeMarkerTTLSeconds int `yaml:"write_mode_marker_ttl_seconds"`

	// DefaultLockTTLSeconds is the TTL used for locks the server takes on
	// its own behalf (reconciliation, marker recovery).
	DefaultLockTTLSeconds int `yaml:"default_lock_ttl_seconds"`

	// JobWorkers bounds concurrently-executing triggered refreshes.
	JobWorkers int `yaml:"job_workers"`

	// Binaries. Overridable for tests and exotic hosts.
	GitBin     string `yaml:"git_bin"`
	CopyBin    string `yaml:"copy_bin"`
	IndexerBin string `yaml:"indexer_bin"`

	Log LogConfig `yaml:"log"`
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	return &Config{
		Root:                      "/var/lib/quarry/golden-repos",
		DataDir:                   "/var/lib/quarry",
		RefreshIntervalSeconds:    DefaultRefreshIntervalSeconds,
		CowCloneTimeout:           600,
		GitCommandTimeout:         300,
		GitUpdateIndexTimeout:     120,
		GitRestoreTimeout:         120,
		CidxFixConfigTimeout:      120,
		CidxIndexTimeout:          1800,
		CidxScipGenerateTimeout:   1800,
		MultiSearchMaxWorkers:     2,
		MultiSearchTimeoutSeconds: 30,
		Cleanup: CleanupConfig{
			MaxFailures:          5,
			BaseBackoffSeconds:   1,
			MaxBackoffSeconds:    60,
			FDUsageThreshold:     0.80,
			CheckIntervalSeconds: 1,
		},
		WriteModeMarkerTTLSeconds: DefaultWriteModeMarkerTTLSeconds,
		DefaultLockTTLSeconds:     600,
		JobWorkers:                2,
		GitBin:                    "git",
		CopyBin:                   "cp",
		IndexerBin:                "cidx",
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must be set")
	}
	if c.RefreshIntervalSeconds < MinRefreshIntervalSeconds {
		return fmt.Errorf("refresh_interval_seconds must be at least %d, got %d",
			MinRefreshIntervalSeconds, c.RefreshIntervalSeconds)
	}
	if c.MultiSearchMaxWorkers < 1 {
		return fmt.Errorf("multi_search_max_workers must be at least 1, got %d", c.MultiSearchMaxWorkers)
	}
	if c.MultiSearchTimeoutSeconds < 1 {
		return fmt.Errorf("multi_search_timeout_seconds must be at least 1, got %d", c.MultiSearchTimeoutSeconds)
	}
	if c.Cleanup.MaxFailures < 1 {
		return fmt.Errorf("cleanup.max_failures must be at least 1, got %d", c.Cleanup.MaxFailures)
	}
	if c.Cleanup.FDUsageThreshold <= 0 || c.Cleanup.FDUsageThreshold > 1 {
		return fmt.Errorf("cleanup.fd_usage_threshold must be in (0, 1], got %v", c.Cleanup.FDUsageThreshold)
	}
	if c.Cleanup.BaseBackoffSeconds < 1 || c.Cleanup.MaxBackoffSeconds < c.Cleanup.BaseBackoffSeconds {
		return fmt.Errorf("cleanup backoff misconfigured: base=%d max=%d",
			c.Cleanup.BaseBackoffSeconds, c.Cleanup.MaxBackoffSeconds)
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("job_workers must be at least 1, got %d", c.JobWorkers)
	}
	return nil
}

// Duration accessors keep call sites free of second/Duration conversions.

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c *Config) MultiSearchTimeout() time.Duration {
	return time.Duration(c.MultiSearchTimeoutSeconds) * time.Second
}

func (c *Config) WriteModeMarkerTTL() time.Duration {
	return time.Duration(c.WriteModeMarkerTTLSeconds) * time.Second
}

func (c *Config) DefaultLockTTL() time.Duration {
	return time.Duration(c.DefaultLockTTLSeconds) * time.Second
}

func (c *CleanupConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *CleanupConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}

func (c *CleanupConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}
