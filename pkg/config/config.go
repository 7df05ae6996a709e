package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for edp-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// ResolveDockerHosts rewrites loopback service addresses to the Docker
	// host when the engine itself runs in a container.
	ResolveDockerHosts bool `yaml:"resolve_docker_hosts" env:"RESOLVE_DOCKER_HOSTS" env-default:"false"`

	// CORSOrigins lists browser origins allowed to call the job API.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"*"`

	Jobs      JobsConfig      `yaml:"jobs"`
	Database  DatabaseConfig  `yaml:"database"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	OCR       OCRConfig       `yaml:"ocr"`
}

// Job store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// JobsConfig holds orchestrator settings.
type JobsConfig struct {
	// Workers is the worker pool size. 0 means one worker per CPU.
	Workers       int           `yaml:"workers" env:"JOBS_WORKERS" env-default:"0"`
	QueueCapacity int           `yaml:"queue_capacity" env:"JOBS_QUEUE_CAPACITY" env-default:"64"`
	Timeout       time.Duration `yaml:"timeout" env:"JOBS_TIMEOUT" env-default:"30m"`

	MaxRetries     int           `yaml:"max_retries" env:"JOBS_MAX_RETRIES" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"JOBS_INITIAL_BACKOFF" env-default:"1s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"JOBS_MAX_BACKOFF" env-default:"30s"`

	Retention     time.Duration `yaml:"retention" env:"JOBS_RETENTION" env-default:"168h"`
	PruneInterval time.Duration `yaml:"prune_interval" env:"JOBS_PRUNE_INTERVAL" env-default:"1h"`

	// Store selects the job repository: memory, postgres or sqlite.
	Store         string `yaml:"store" env:"JOBS_STORE" env-default:"memory"`
	MaxAssetBytes int64  `yaml:"max_asset_bytes" env:"JOBS_MAX_ASSET_BYTES" env-default:"1073741824"`

	// LocalAssetRoots lists the directories submitted local paths and file://
	// locations may point into. Empty means only uploads and http(s) assets.
	LocalAssetRoots []string `yaml:"local_asset_roots" env:"JOBS_LOCAL_ASSET_ROOTS" env-separator:","`
}

// WorkerCount resolves the configured pool size.
func (c JobsConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"edp"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"edp_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// URL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// SQLiteConfig holds the single-node job store location.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH" env-default:"./data/jobs.db"`
}

// RedisConfig holds Redis connection settings for job event publishing.
// Redis is optional; an empty host disables it.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL" env-default:"edp:jobs"`
}

// Artifact store backends.
const (
	ArtifactsLocal = "local"
	ArtifactsMinIO = "minio"
)

// ArtifactsConfig selects where rendered graphs, series, profiles and uploads are kept.
type ArtifactsConfig struct {
	Backend  string      `yaml:"backend" env:"ARTIFACTS_BACKEND" env-default:"local"`
	LocalDir string      `yaml:"local_dir" env:"ARTIFACTS_LOCAL_DIR" env-default:"./data/artifacts"`
	MinIO    MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds S3-compatible object storage settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	Region    string `yaml:"region" env:"MINIO_REGION" env-default:"us-east-1"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"edp-artifacts"`
	AccessKey string `yaml:"-" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"MINIO_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

// OCRConfig configures the optional vision model used to extract text from images.
type OCRConfig struct {
	Endpoint string `yaml:"endpoint" env:"OCR_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"OCR_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"OCR_API_KEY"`
}

// IsAvailable returns true if text extraction is configured.
func (c *OCRConfig) IsAvailable() bool {
	return c.Endpoint != "" && c.Model != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.ResolveDockerHosts {
		cfg.applyDockerHosts(IsRunningInDocker())
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Jobs.QueueCapacity < 1 {
		errs = append(errs, errors.New("jobs.queue_capacity must be at least 1"))
	}
	if c.Jobs.Workers < 0 {
		errs = append(errs, errors.New("jobs.workers must not be negative"))
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, errors.New("jobs.timeout must be positive"))
	}
	if c.Jobs.PruneInterval <= 0 {
		errs = append(errs, errors.New("jobs.prune_interval must be positive"))
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, errors.New("jobs.max_retries must not be negative"))
	}
	for _, root := range c.Jobs.LocalAssetRoots {
		if !filepath.IsAbs(root) {
			errs = append(errs, fmt.Errorf("jobs.local_asset_roots entry %q must be an absolute path", root))
		}
	}
	switch c.Jobs.Store {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown jobs.store %q", c.Jobs.Store))
	}
	switch c.Artifacts.Backend {
	case ArtifactsLocal, ArtifactsMinIO:
	default:
		errs = append(errs, fmt.Errorf("unknown artifacts.backend %q", c.Artifacts.Backend))
	}
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
