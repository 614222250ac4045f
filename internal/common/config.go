package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Watchdog    WatchdogConfig  `toml:"watchdog"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Classes     ClassesConfig   `toml:"classes"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// SchedulerConfig controls the scheduling loop and job lifecycle policies.
type SchedulerConfig struct {
	TickInterval        string `toml:"tick_interval"`         // e.g. "1s" - scheduling loop period
	MaxClientWait       string `toml:"max_client_wait"`       // how long past start time to wait for requested clients
	ShutdownGrace       string `toml:"shutdown_grace"`        // how long to wait for client acks on shutdown
	RecentCompletedSize int    `toml:"recent_completed_size"` // bounded ring of recently completed jobs for display
	// ManagerStartsPerSecond paces start-client commands issued to client
	// managers so a large connect request does not thundering-herd the server.
	ManagerStartsPerSecond float64 `toml:"manager_starts_per_second"`
	// TreatOneAsOn restores source parity for the historical "one" spelling in
	// include-threads-in-description truthiness checks. Off by default.
	TreatOneAsOn bool `toml:"treat_one_as_on"`
	// RerunZeroDurationVerbatim disables the template-duration fallback when a
	// re-run iteration has a zero/absent duration.
	RerunZeroDurationVerbatim bool `toml:"rerun_zero_duration_verbatim"`
}

// WatchdogConfig controls the periodic sweep for stuck jobs.
type WatchdogConfig struct {
	Schedule   string `toml:"schedule"`    // cron expression, default "*/30 * * * * *" (every 30s, with seconds field)
	StuckGrace string `toml:"stuck_grace"` // extra time past a job's deadline before the watchdog force-stops it
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// ClassesConfig contains configuration for job-class descriptor loading
type ClassesConfig struct {
	Dir        string   `toml:"dir"`        // Directory containing job-class descriptor files
	Extensions []string `toml:"extensions"` // File extensions to scan (default: [".toml", ".yaml", ".yml"])
}

// WebSocketConfig contains configuration for worker connections
type WebSocketConfig struct {
	PingInterval string `toml:"ping_interval"` // keepalive ping period, e.g. "30s"
	WriteTimeout string `toml:"write_timeout"` // per-message write deadline
	ReadLimit    int64  `toml:"read_limit"`    // max inbound message size in bytes
}

// NewDefaultConfig returns the default configuration
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Scheduler: SchedulerConfig{
			TickInterval:           "1s",
			MaxClientWait:          "5m",
			ShutdownGrace:          "10s",
			RecentCompletedSize:    10,
			ManagerStartsPerSecond: 5,
		},
		Watchdog: WatchdogConfig{
			Schedule:   "*/30 * * * * *", // every 30 seconds
			StuckGrace: "1m",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/onero",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Classes: ClassesConfig{
			Dir:        "./job-classes",
			Extensions: []string{".toml", ".yaml", ".yml"},
		},
		WebSocket: WebSocketConfig{
			PingInterval: "30s",
			WriteTimeout: "10s",
			ReadLimit:    1 << 20, // 1 MB
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ONERO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("ONERO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ONERO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("ONERO_STORAGE_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("ONERO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if dir := os.Getenv("ONERO_CLASSES_DIR"); dir != "" {
		config.Classes.Dir = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// TickInterval returns the parsed scheduler tick interval.
func (c *SchedulerConfig) TickIntervalDuration() time.Duration {
	return durationOrDefault(c.TickInterval, time.Second)
}

// MaxClientWaitDuration returns the parsed requested-client wait limit.
func (c *SchedulerConfig) MaxClientWaitDuration() time.Duration {
	return durationOrDefault(c.MaxClientWait, 5*time.Minute)
}

// ShutdownGraceDuration returns the parsed shutdown grace period.
func (c *SchedulerConfig) ShutdownGraceDuration() time.Duration {
	return durationOrDefault(c.ShutdownGrace, 10*time.Second)
}

// StuckGraceDuration returns the parsed watchdog grace period.
func (c *WatchdogConfig) StuckGraceDuration() time.Duration {
	return durationOrDefault(c.StuckGrace, time.Minute)
}

func durationOrDefault(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
