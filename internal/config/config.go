package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration.
// All paths are relative to the project root unless absolute.
type PathsConfig struct {
	FeaturesDir string `toml:"features_dir"` // Per-feature state records
	WIPDir      string `toml:"wip_dir"`      // Epic/agent tracker records
	HandlersDir string `toml:"handlers_dir"` // Phase handler executables
	LogsDir     string `toml:"logs_dir"`
}

// BlockerConfig holds severity gating policy.
type BlockerConfig struct {
	// HighThreshold is the number of high-severity findings tolerated
	// before a soft block. Critical findings always hard-block.
	HighThreshold int `toml:"high_threshold"`

	// FindingsCap bounds the rendered blocker report; findings beyond the
	// cap are summarized as a single "+K more" entry.
	FindingsCap int `toml:"findings_cap"`
}

// SchedulerConfig holds WIP scheduler settings.
type SchedulerConfig struct {
	// MaxEpicsPerAgent is the WIP limit: the number of epics an agent may
	// have in implementing state at once.
	MaxEpicsPerAgent int `toml:"max_epics_per_agent"`
}

// PollConfig holds bounded-wait settings.
type PollConfig struct {
	Interval time.Duration `toml:"interval"` // Fixed interval between checks
	Budget   time.Duration `toml:"budget"`   // Total wait budget before Timeout
}

// HandlerConfig holds phase handler execution settings.
type HandlerConfig struct {
	// StopGracePeriod is how long a cancelled handler gets between
	// SIGTERM and SIGKILL, in seconds.
	StopGracePeriod int `toml:"stop_grace_period"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for shipway.
type Config struct {
	Version   string          `toml:"version"`
	Paths     PathsConfig     `toml:"paths"`
	Blocker   BlockerConfig   `toml:"blocker"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Poll      PollConfig      `toml:"poll"`
	Handler   HandlerConfig   `toml:"handler"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			FeaturesDir: ".shipway/features",
			WIPDir:      ".shipway/wip",
			HandlersDir: ".shipway/handlers",
			LogsDir:     ".shipway/logs",
		},
		Blocker: BlockerConfig{
			HighThreshold: 0,
			FindingsCap:   50,
		},
		Scheduler: SchedulerConfig{
			MaxEpicsPerAgent: 1,
		},
		Poll: PollConfig{
			Interval: 30 * time.Second,
			Budget:   20 * time.Minute,
		},
		Handler: HandlerConfig{
			StopGracePeriod: 10,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   "",
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.shipway/config.toml -> .shipway/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	// Load global config first (if exists)
	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".shipway", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	// Load project config (overrides global)
	projectConfig := filepath.Join(dir, ".shipway", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.FeaturesDir == "" {
		return fmt.Errorf("features_dir is required")
	}
	if c.Paths.WIPDir == "" {
		return fmt.Errorf("wip_dir is required")
	}
	if c.Paths.HandlersDir == "" {
		return fmt.Errorf("handlers_dir is required")
	}
	if c.Blocker.HighThreshold < 0 {
		return fmt.Errorf("high_threshold must be non-negative")
	}
	if c.Blocker.FindingsCap <= 0 {
		return fmt.Errorf("findings_cap must be positive")
	}
	if c.Scheduler.MaxEpicsPerAgent <= 0 {
		return fmt.Errorf("max_epics_per_agent must be positive")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Poll.Budget < c.Poll.Interval {
		return fmt.Errorf("poll budget must be at least one interval")
	}
	return nil
}

// FeaturesDir returns the absolute features directory path.
func (c *Config) FeaturesDir(baseDir string) string {
	return resolve(baseDir, c.Paths.FeaturesDir)
}

// WIPDir returns the absolute WIP tracker directory path.
func (c *Config) WIPDir(baseDir string) string {
	return resolve(baseDir, c.Paths.WIPDir)
}

// HandlersDir returns the absolute handlers directory path.
func (c *Config) HandlersDir(baseDir string) string {
	return resolve(baseDir, c.Paths.HandlersDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.LogsDir)
}

// LogFile returns the absolute log file path, or empty if file logging is off.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	return resolve(baseDir, c.Logging.File)
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
