package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete preview cache configuration
type Configuration struct {
	Global       GlobalConfig       `yaml:"global"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	MemoryCache  MemoryCacheConfig  `yaml:"memory_cache"`
	DiskCache    DiskCacheConfig    `yaml:"disk_cache"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// OrchestratorConfig represents request dispatch settings
type OrchestratorConfig struct {
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	MetricsTick           time.Duration `yaml:"metrics_tick"`
}

// MemoryCacheConfig represents the in-memory tier settings
type MemoryCacheConfig struct {
	Budget string `yaml:"budget"`
}

// DiskCacheConfig represents the on-disk tier settings
type DiskCacheConfig struct {
	Directory   string          `yaml:"directory"`
	TTL         time.Duration   `yaml:"ttl"`
	Compression bool            `yaml:"compression"`
	Mirror      MirrorConfig    `yaml:"mirror"`
	SaveBatch   SaveBatchConfig `yaml:"save_batch"`
}

// MirrorConfig represents the coordinator's short-lived read mirror
type MirrorConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// SaveBatchConfig represents how pending saves are batched to the worker
type SaveBatchConfig struct {
	IdleDelay      time.Duration `yaml:"idle_delay"`
	FlushThreshold int           `yaml:"flush_threshold"`
}

// MetricsConfig represents Prometheus export settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentRequests: 4,
			RequestTimeout:        5 * time.Second,
			MetricsTick:           5 * time.Second,
		},
		MemoryCache: MemoryCacheConfig{
			Budget: "10MB",
		},
		DiskCache: DiskCacheConfig{
			Directory:   "",
			TTL:         24 * time.Hour,
			Compression: false,
			Mirror: MirrorConfig{
				MaxEntries: 10,
				TTL:        5 * time.Minute,
			},
			SaveBatch: SaveBatchConfig{
				IdleDelay:      100 * time.Millisecond,
				FlushThreshold: 10,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9180,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("PREVIEWCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("PREVIEWCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("PREVIEWCACHE_MAX_CONCURRENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Orchestrator.MaxConcurrentRequests = n
		}
	}
	if val := os.Getenv("PREVIEWCACHE_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Orchestrator.RequestTimeout = d
		}
	}
	if val := os.Getenv("PREVIEWCACHE_MEMORY_BUDGET"); val != "" {
		c.MemoryCache.Budget = val
	}
	if val := os.Getenv("PREVIEWCACHE_CACHE_DIR"); val != "" {
		c.DiskCache.Directory = val
	}
	if val := os.Getenv("PREVIEWCACHE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.DiskCache.TTL = d
		}
	}
	if val := os.Getenv("PREVIEWCACHE_COMPRESSION"); val != "" {
		c.DiskCache.Compression = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PREVIEWCACHE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PREVIEWCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Orchestrator.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be greater than 0")
	}

	if c.Orchestrator.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be greater than 0")
	}

	if _, err := ParseSize(c.MemoryCache.Budget); err != nil {
		return fmt.Errorf("invalid memory_cache budget: %w", err)
	}

	if c.DiskCache.TTL <= 0 {
		return fmt.Errorf("disk_cache ttl must be greater than 0")
	}

	if c.DiskCache.SaveBatch.FlushThreshold <= 0 {
		return fmt.Errorf("save_batch flush_threshold must be greater than 0")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseSize converts a human-readable size such as "10MB" or "512KB" to bytes
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}
	return n * multiplier, nil
}
