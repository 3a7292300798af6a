package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level" yaml:"level"`
	Path         string            `mapstructure:"path" yaml:"path"`
	ConsoleLevel string            `mapstructure:"console_level" yaml:"console_level"`
	Rotation     RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components   map[string]string `mapstructure:"components" yaml:"components"`
}

// UploadConfig configures the remote upload endpoint and retry policy.
type UploadConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	FieldName    string        `mapstructure:"field_name" yaml:"field_name"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// JournalConfig configures the upload journal store.
type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Config represents the daemon configuration.
type Config struct {
	WatchDirectory     string        `mapstructure:"watch_directory" yaml:"watch_directory"`
	ArchiveDirectory   string        `mapstructure:"archive_directory" yaml:"archive_directory"`
	AcceptedExtensions []string      `mapstructure:"accepted_extensions" yaml:"accepted_extensions"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ScanInterval       time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	Upload             UploadConfig  `mapstructure:"upload" yaml:"upload"`
	Logging            LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Journal            JournalConfig `mapstructure:"journal" yaml:"journal"`
	PIDPath            string        `mapstructure:"pid_path" yaml:"pid_path"`
}

// Validation errors.
var (
	ErrWatchDirRequired   = errors.New("watch_directory is required")
	ErrArchiveDirRequired = errors.New("archive_directory is required")
	ErrEndpointRequired   = errors.New("upload.endpoint is required")
)

// Load loads configuration from file and environment variables. When
// cfgFile is empty the file is searched for at (in order of precedence):
//   - $XDG_CONFIG_HOME/imgmon/config.yaml
//   - $HOME/.config/imgmon/config.yaml
//
// Environment variables are prefixed with IMGMON_ (e.g., IMGMON_WATCH_DIRECTORY).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "imgmon"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "imgmon"))
	}

	v.SetEnvPrefix("IMGMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyPathDefaults(homeDir)

	return &cfg, nil
}

// SetDefaults registers the default values on a viper instance. Required
// options get empty defaults so their keys are known to viper and can be
// satisfied from the environment alone.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("watch_directory", "")
	v.SetDefault("archive_directory", "")
	v.SetDefault("upload.endpoint", "")
	v.SetDefault("accepted_extensions", DefaultExtensions)
	v.SetDefault("settle_delay", DefaultSettleDelay)
	v.SetDefault("scan_interval", DefaultScanInterval)

	v.SetDefault("upload.field_name", DefaultUploadFieldName)
	v.SetDefault("upload.timeout", DefaultUploadTimeout)
	v.SetDefault("upload.max_attempts", DefaultMaxAttempts)
	v.SetDefault("upload.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("upload.concurrency", DefaultConcurrency)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use the default XDG state path
	v.SetDefault("logging.console_level", "info")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.components", map[string]string{
		"watcher": "warn",
	})

	v.SetDefault("journal.path", "")
	v.SetDefault("pid_path", "")
}

// applyPathDefaults fills in XDG-derived paths and expands ~ prefixes.
func (c *Config) applyPathDefaults(homeDir string) {
	if c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath()
	}
	if c.PIDPath == "" {
		c.PIDPath = DefaultPIDPath()
	}

	c.WatchDirectory = expandHome(c.WatchDirectory, homeDir)
	c.ArchiveDirectory = expandHome(c.ArchiveDirectory, homeDir)
	c.Journal.Path = expandHome(c.Journal.Path, homeDir)
	c.Logging.Path = expandHome(c.Logging.Path, homeDir)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path, homeDir string) string {
	if strings.HasPrefix(path, "~") {
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate checks that required options are present and sane.
func (c *Config) Validate() error {
	if c.WatchDirectory == "" {
		return ErrWatchDirRequired
	}
	if c.ArchiveDirectory == "" {
		return ErrArchiveDirRequired
	}
	if c.Upload.Endpoint == "" {
		return ErrEndpointRequired
	}
	if c.SettleDelay <= 0 {
		return fmt.Errorf("settle_delay must be positive, got %s", c.SettleDelay)
	}
	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1, got %d", c.Upload.MaxAttempts)
	}
	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1, got %d", c.Upload.Concurrency)
	}
	if len(c.AcceptedExtensions) == 0 {
		return errors.New("accepted_extensions must not be empty")
	}
	return nil
}

// ExtensionSet returns the accepted extensions as a lookup set of
// lowercased suffixes including the leading dot (".jpg").
func (c *Config) ExtensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AcceptedExtensions))
	for _, ext := range c.AcceptedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if ext == "" {
			continue
		}
		set["."+ext] = struct{}{}
	}
	return set
}

// DefaultJournalPath returns the default journal store path.
func DefaultJournalPath() string {
	return filepath.Join(xdg.DataHome, "imgmon", "journal")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(xdg.DataHome, "imgmon", "imgmond.pid")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "imgmon"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "imgmon"), nil
}

// WriteDefault writes a starter config file if none exists.
// Returns the path written, or empty string if a config already exists.
func WriteDefault() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return path, nil
}

const defaultConfigYAML = `# imgmond configuration
# Directory to watch for new images (required).
watch_directory: ""

# Directory uploaded images are moved to (required).
archive_directory: ""

# Extensions accepted for upload.
accepted_extensions: [jpg, jpeg, png]

# Quiet period before a file is considered fully written.
settle_delay: 30s

# Rescan interval for missed filesystem events. 0 disables.
scan_interval: 5m

upload:
  # Remote ingestion endpoint (required).
  endpoint: ""
  field_name: imageFile
  timeout: 60s
  max_attempts: 5
  retry_backoff: 10s
  concurrency: 2

logging:
  level: info
  console_level: info
  rotation:
    max_size: 10MB
    max_backups: 5
`
