package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
	Remote      RemoteConfig      `yaml:"remote"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Sync        SyncConfig        `yaml:"sync"`
	Backup      BackupConfig      `yaml:"backup"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`

	// TempDir holds scratch files while archives are encoded and decoded.
	// Empty means the system default.
	TempDir string `yaml:"temp_dir"`
}

// AuthConfig contains authentication settings for the HTTP API.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text or auto
}

// RemoteConfig selects and configures the remote backend.
type RemoteConfig struct {
	Backend       string        `yaml:"backend"` // drive or s3
	ContainerName string        `yaml:"container_name"`
	Timeout       Duration      `yaml:"timeout"`
	Drive         DriveSettings `yaml:"drive"`
	S3            S3Settings    `yaml:"s3"`
}

// DriveSettings overrides the Drive endpoints.
type DriveSettings struct {
	APIBase    string `yaml:"api_base"`
	UploadBase string `yaml:"upload_base"`
}

// S3Settings configures the S3-compatible backend. The bearer credential is
// used as the secret key.
type S3Settings struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    bool   `yaml:"use_ssl"`
}

// CredentialsConfig configures how the remote bearer credential is obtained.
// A static access token takes precedence over the OAuth refresh flow.
type CredentialsConfig struct {
	AccessToken string      `yaml:"-"` // env-only, never in YAML
	OAuth       OAuthConfig `yaml:"oauth"`
}

// OAuthConfig contains refresh-token flow settings.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"-"` // env-only, never in YAML
	RefreshToken string   `yaml:"-"` // env-only, never in YAML
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// SyncConfig contains background sync settings.
type SyncConfig struct {
	Enabled               bool     `yaml:"enabled"`
	Interval              Duration `yaml:"interval"`
	RetryAttempts         int      `yaml:"retry_attempts"`
	RetryBaseDelay        Duration `yaml:"retry_base_delay"`
	CorruptRemoteAsAbsent bool     `yaml:"corrupt_remote_as_absent"`
}

// BackupConfig contains local archive backup settings. Backups are off
// while Dir is empty.
type BackupConfig struct {
	Dir      string   `yaml:"dir"`
	Interval Duration `yaml:"interval"`
	Keep     int      `yaml:"keep"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("LEDGER_CONFIG_PATH", "config/ledger.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from path instead of LEDGER_CONFIG_PATH.
// It backs the --config flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(2 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/ledger.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Remote: RemoteConfig{
			Backend:       "drive",
			ContainerName: "Ledger Sync",
			Timeout:       Duration(60 * time.Second),
			S3: S3Settings{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Credentials: CredentialsConfig{
			OAuth: OAuthConfig{
				TokenURL: "https://oauth2.googleapis.com/token",
				Scopes:   []string{"https://www.googleapis.com/auth/drive.file"},
			},
		},
		Sync: SyncConfig{
			Enabled:        true,
			Interval:       Duration(5 * time.Minute),
			RetryAttempts:  3,
			RetryBaseDelay: Duration(2 * time.Second),
		},
		Backup: BackupConfig{
			Interval: Duration(24 * time.Hour),
			Keep:     7,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LEDGER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("LEDGER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LEDGER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LEDGER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	envString("LEDGER_DB_PATH", &cfg.Database.Path)
	envString("LEDGER_TEMP_DIR", &cfg.Database.TempDir)

	// Auth
	envString("LEDGER_API_KEY", &cfg.Auth.APIKey)

	// Log
	envString("LEDGER_LOG_LEVEL", &cfg.Log.Level)
	envString("LEDGER_LOG_FORMAT", &cfg.Log.Format)

	// Remote
	envString("LEDGER_REMOTE_BACKEND", &cfg.Remote.Backend)
	envString("LEDGER_CONTAINER_NAME", &cfg.Remote.ContainerName)
	envDuration("LEDGER_REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	envString("LEDGER_DRIVE_API_BASE", &cfg.Remote.Drive.APIBase)
	envString("LEDGER_DRIVE_UPLOAD_BASE", &cfg.Remote.Drive.UploadBase)
	envString("LEDGER_S3_ENDPOINT", &cfg.Remote.S3.Endpoint)
	envString("LEDGER_S3_REGION", &cfg.Remote.S3.Region)
	envString("LEDGER_S3_BUCKET", &cfg.Remote.S3.Bucket)
	envString("LEDGER_S3_PREFIX", &cfg.Remote.S3.Prefix)
	envString("LEDGER_S3_ACCESS_KEY", &cfg.Remote.S3.AccessKey)
	envBool("LEDGER_S3_USE_SSL", &cfg.Remote.S3.UseSSL)

	// Credentials
	envString("LEDGER_ACCESS_TOKEN", &cfg.Credentials.AccessToken)
	envString("LEDGER_OAUTH_CLIENT_ID", &cfg.Credentials.OAuth.ClientID)
	envString("LEDGER_OAUTH_CLIENT_SECRET", &cfg.Credentials.OAuth.ClientSecret)
	envString("LEDGER_OAUTH_REFRESH_TOKEN", &cfg.Credentials.OAuth.RefreshToken)
	envString("LEDGER_OAUTH_TOKEN_URL", &cfg.Credentials.OAuth.TokenURL)
	if v := os.Getenv("LEDGER_OAUTH_SCOPES"); v != "" {
		cfg.Credentials.OAuth.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	// Sync
	envBool("LEDGER_SYNC_ENABLED", &cfg.Sync.Enabled)
	envDuration("LEDGER_SYNC_INTERVAL", &cfg.Sync.Interval)
	if v := os.Getenv("LEDGER_SYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryAttempts = n
		}
	}
	envDuration("LEDGER_SYNC_RETRY_BASE_DELAY", &cfg.Sync.RetryBaseDelay)
	envBool("LEDGER_CORRUPT_REMOTE_AS_ABSENT", &cfg.Sync.CorruptRemoteAsAbsent)

	// Backup
	envString("LEDGER_BACKUP_DIR", &cfg.Backup.Dir)
	envDuration("LEDGER_BACKUP_INTERVAL", &cfg.Backup.Interval)
	if v := os.Getenv("LEDGER_BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backup.Keep = n
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// validate checks value ranges. It does not require secrets; see
// ValidateServer.
func (c *Config) validate() error {
	switch c.Log.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("log.format must be json, text or auto, got %q", c.Log.Format)
	}
	switch c.Remote.Backend {
	case "drive", "s3":
	default:
		return fmt.Errorf("remote.backend must be drive or s3, got %q", c.Remote.Backend)
	}
	if c.Remote.ContainerName == "" {
		return errors.New("remote.container_name is required")
	}
	if c.Remote.Backend == "s3" && c.Remote.S3.Bucket == "" {
		return errors.New("LEDGER_S3_BUCKET is required for the s3 backend")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if c.Sync.RetryAttempts < 0 {
		return errors.New("sync.retry_attempts must not be negative")
	}
	if c.Backup.Dir != "" {
		if c.Backup.Interval <= 0 {
			return errors.New("backup.interval must be positive")
		}
		if c.Backup.Keep < 1 {
			return errors.New("backup.keep must be at least 1")
		}
	}
	return nil
}

// ValidateServer checks the settings required to serve the HTTP API.
// In dev mode (LEDGER_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServer() error {
	// Dev mode bypasses API key validation
	if DevMode() {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("LEDGER_API_KEY is required")
	}
	return nil
}

// DevMode reports whether LEDGER_DEV_MODE is enabled.
func DevMode() bool {
	return os.Getenv("LEDGER_DEV_MODE") == "true"
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
