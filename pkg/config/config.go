package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. UPLOADOOR_UPLOAD_CONTAINER.
	EnvPrefix = "UPLOADOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultBackend is the default object storage backend.
	DefaultBackend = BackendS3

	// DefaultContainer is the container uploads go to when none is given.
	DefaultContainer = "XenLogs"

	// DefaultConcurrency uploads siblings one at a time.
	DefaultConcurrency = 1

	// DefaultMaxRetries gives six attempts per object in total.
	DefaultMaxRetries = 5

	// DefaultBackoffMultiplier grows the delay between attempts.
	DefaultBackoffMultiplier = 2.0

	// DefaultS3Region is used when no region is configured.
	DefaultS3Region = "us-east-1"

	// DefaultPreviewListen is the default preview server address.
	DefaultPreviewListen = "127.0.0.1:8080"

	// DefaultPreviewRequestsPerMinute is the per-IP preview request limit.
	DefaultPreviewRequestsPerMinute = 600
)

// Supported storage backends.
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
	BackendLocal = "local"
)

// Config is the root configuration for uploadoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Manifest ManifestConfig `yaml:"manifest" mapstructure:"manifest"`
	Preview  PreviewConfig  `yaml:"preview" mapstructure:"preview"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend string             `yaml:"backend" mapstructure:"backend"`
	S3      S3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Minio   MinioConfig        `yaml:"minio,omitempty" mapstructure:"minio"`
	Local   LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// S3Config contains settings for S3-compatible storage accessed through
// the AWS SDK.
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// MinioConfig contains settings for a MinIO (or other S3-compatible) server
// accessed through minio-go.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// LocalStorageConfig stores containers as directories under Dir. Useful for
// dry runs and for the preview server.
type LocalStorageConfig struct {
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`

	// Owner is an optional "UID:GID" given to created files and directories.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// UploadConfig controls the upload engine.
type UploadConfig struct {
	Container   string          `yaml:"container" mapstructure:"container"`
	Concurrency int             `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries  int             `yaml:"max_retries" mapstructure:"max_retries"`
	Backoff     BackoffConfig   `yaml:"backoff" mapstructure:"backoff"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxFileSize string          `yaml:"max_file_size,omitempty" mapstructure:"max_file_size"`
}

// BackoffConfig configures the wait between attempts of a failed upload.
// A zero InitialDelay retries immediately.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// RateLimitConfig limits how many objects are stored per second.
// Zero disables the limit.
type RateLimitConfig struct {
	UploadsPerSecond float64 `yaml:"uploads_per_second" mapstructure:"uploads_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
}

// ManifestConfig enables the upload audit manifest.
type ManifestConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// PreviewConfig configures the HTTP server that serves a locally stored
// container for inspection.
type PreviewConfig struct {
	Listen      string           `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string         `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	BasicAuth   BasicAuthConfig  `yaml:"basic_auth,omitempty" mapstructure:"basic_auth"`
	RateLimit   PreviewRateLimit `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// PreviewRateLimit limits requests per client IP.
type PreviewRateLimit struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser is a user with a bcrypt password hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// Load reads and merges the given configuration files in order, then
// applies environment overrides. With no paths only defaults and the
// environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the key is absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("storage.backend", DefaultBackend)
	v.SetDefault("storage.s3.endpoint_url", "")
	v.SetDefault("storage.s3.region", DefaultS3Region)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.access_key_id", "")
	v.SetDefault("storage.minio.secret_access_key", "")
	v.SetDefault("storage.minio.use_ssl", true)
	v.SetDefault("storage.local.dir", "")
	v.SetDefault("storage.local.owner", "")

	v.SetDefault("upload.container", DefaultContainer)
	v.SetDefault("upload.concurrency", DefaultConcurrency)
	v.SetDefault("upload.max_retries", DefaultMaxRetries)
	v.SetDefault("upload.backoff.initial_delay", time.Duration(0))
	v.SetDefault("upload.backoff.max_delay", time.Duration(0))
	v.SetDefault("upload.backoff.multiplier", DefaultBackoffMultiplier)
	v.SetDefault("upload.rate_limit.uploads_per_second", 0.0)
	v.SetDefault("upload.rate_limit.burst", 1)
	v.SetDefault("upload.max_file_size", "")

	v.SetDefault("manifest.enabled", false)
	v.SetDefault("manifest.database.driver", "sqlite")
	v.SetDefault("manifest.database.sqlite.path", "uploadoor-manifest.db")
	v.SetDefault("manifest.database.postgres.host", "")
	v.SetDefault("manifest.database.postgres.port", 5432)
	v.SetDefault("manifest.database.postgres.user", "")
	v.SetDefault("manifest.database.postgres.password", "")
	v.SetDefault("manifest.database.postgres.database", "")
	v.SetDefault("manifest.database.postgres.ssl_mode", "disable")

	v.SetDefault("preview.listen", DefaultPreviewListen)
	v.SetDefault("preview.basic_auth.enabled", false)
	v.SetDefault("preview.rate_limit.enabled", false)
	v.SetDefault("preview.rate_limit.requests_per_minute", DefaultPreviewRequestsPerMinute)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendS3:
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint is required for the minio backend")
		}
	case BackendLocal:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if c.Upload.Container == "" {
		return fmt.Errorf("upload.container must not be empty")
	}

	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1, got %d", c.Upload.Concurrency)
	}

	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("upload.max_retries must not be negative, got %d", c.Upload.MaxRetries)
	}

	if c.Upload.Backoff.InitialDelay < 0 || c.Upload.Backoff.MaxDelay < 0 {
		return fmt.Errorf("upload.backoff delays must not be negative")
	}

	if c.Upload.RateLimit.UploadsPerSecond < 0 {
		return fmt.Errorf("upload.rate_limit.uploads_per_second must not be negative")
	}

	if _, err := c.Upload.MaxFileSizeBytes(); err != nil {
		return err
	}

	if c.Manifest.Enabled {
		switch c.Manifest.Database.Driver {
		case "sqlite":
			if c.Manifest.Database.SQLite.Path == "" {
				return fmt.Errorf("manifest.database.sqlite.path is required")
			}
		case "postgres":
			if c.Manifest.Database.Postgres.Host == "" {
				return fmt.Errorf("manifest.database.postgres.host is required")
			}
		default:
			return fmt.Errorf("unsupported manifest database driver %q", c.Manifest.Database.Driver)
		}
	}

	return nil
}

// ValidatePreview checks the settings needed by the preview server.
func (c *Config) ValidatePreview() error {
	if c.Storage.Backend != BackendLocal {
		return fmt.Errorf("preview requires the local storage backend, got %q", c.Storage.Backend)
	}

	if c.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local.dir is required for preview")
	}

	if c.Preview.Listen == "" {
		return fmt.Errorf("preview.listen must not be empty")
	}

	if c.Preview.RateLimit.Enabled && c.Preview.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("preview.rate_limit.requests_per_minute must be at least 1")
	}

	if c.Preview.BasicAuth.Enabled {
		if len(c.Preview.BasicAuth.Users) == 0 {
			return fmt.Errorf("preview.basic_auth is enabled but no users are configured")
		}

		for i, u := range c.Preview.BasicAuth.Users {
			if u.Username == "" || u.PasswordHash == "" {
				return fmt.Errorf("preview.basic_auth.users[%d]: username and password_hash are required", i)
			}
		}
	}

	return nil
}

// MaxFileSizeBytes parses MaxFileSize ("512MiB", "2g"). Zero means no limit.
func (u *UploadConfig) MaxFileSizeBytes() (int64, error) {
	if u.MaxFileSize == "" {
		return 0, nil
	}

	n, err := units.RAMInBytes(u.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("invalid upload.max_file_size %q: %w", u.MaxFileSize, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("upload.max_file_size must not be negative")
	}

	return n, nil
}

// Dump renders the configuration as YAML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	redacted.Storage.S3.SecretAccessKey = mask(redacted.Storage.S3.SecretAccessKey)
	redacted.Storage.Minio.SecretAccessKey = mask(redacted.Storage.Minio.SecretAccessKey)
	redacted.Manifest.Database.Postgres.Password = mask(redacted.Manifest.Database.Postgres.Password)
	redacted.Preview.BasicAuth.Users = nil

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return out, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}
