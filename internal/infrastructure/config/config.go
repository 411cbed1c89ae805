package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SYNC_SOURCE_TOKEN.
const EnvPrefix = "SYNC"

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds all syncctl configuration
type Config struct {
	App       AppConfig
	Source    SourceConfig
	Target    TargetConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Media     MediaConfig
	Log       LogConfig
	Admin     AdminConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-wide settings
type AppConfig struct {
	Name string `validate:"required"`
	Env  string `validate:"oneof=development staging production test"`
}

// SourceConfig describes the platform records are extracted from
type SourceConfig struct {
	Driver   string `validate:"oneof=http fake"`
	BaseURL  string `validate:"omitempty,url"`
	Token    string
	PageSize int           `validate:"gte=0"`
	Timeout  time.Duration `validate:"gt=0"`
	// Fake driver settings
	FakeSeed    int64
	FakeRecords int `validate:"gte=0"`
}

// TargetConfig describes the platform records are loaded into
type TargetConfig struct {
	BaseURL string `validate:"omitempty,url"`
	Token   string
	Timeout time.Duration `validate:"gt=0"`
}

// SyncConfig holds pipeline behaviour settings
type SyncConfig struct {
	BatchSize         int           `validate:"gt=0,lte=1000"`
	Concurrency       int           `validate:"gt=0,lte=64"`
	MaxRetries        int           `validate:"gte=0"`
	RetryBaseDelay    time.Duration `validate:"gt=0"`
	RetryMaxDelay     time.Duration `validate:"gt=0"`
	RetryJitter       float64       `validate:"gte=0,lte=1"`
	RequestsPerMinute float64       `validate:"gte=0"` // 0 disables rate limiting
	Burst             int           `validate:"gte=0"`
	DryRun            bool
	MappingDir        string // empty means the built-in mapping documents
	Tolerance         float64 `validate:"gte=0"`
}

// StorageConfig selects where checkpoints, run history and the DLQ are kept
type StorageConfig struct {
	Backend string `validate:"oneof=file database"`
	Dir     string `validate:"required_if=Backend file"`
}

// DatabaseConfig holds database connection settings for the database backend
type DatabaseConfig struct {
	Driver          string `validate:"oneof=postgres sqlite"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // silent, error, warn, info
}

// RedisConfig holds Redis settings for distributed entity locks
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LockTTL  time.Duration
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MediaConfig holds the S3-compatible bucket product images are re-hosted to
type MediaConfig struct {
	Enabled         bool
	Bucket          string `validate:"required_if=Enabled true"`
	Region          string
	Endpoint        string `validate:"omitempty,url"`
	PublicBaseURL   string `validate:"omitempty,url"`
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
	MaxBytes        int64 `validate:"gte=0"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AdminConfig holds the admin HTTP server configuration
type AdminConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string
	JWTIssuer    string
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	LogsEnabled       bool // export zap logs through the OTEL log bridge
	DBTraceEnabled    bool
	PrometheusEnabled bool
	ProfilingEnabled  bool
	PyroscopeURL      string
}

// LoadOptions controls where Load looks for its inputs
type LoadOptions struct {
	// ConfigFile is an explicit TOML path; empty searches the default locations.
	ConfigFile string
	// DotenvPath is loaded into the process environment before reading
	// overrides. A missing file is ignored.
	DotenvPath string
}

// Load loads configuration from a TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_SOURCE_TOKEN)
// 2. syncctl.toml
// 3. Built-in defaults
func Load(opts LoadOptions) (*Config, error) {
	if opts.DotenvPath == "" {
		opts.DotenvPath = ".env"
	}
	if err := loadDotenv(opts.DotenvPath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("syncctl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "commerce-sync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}
	// godotenv.Load never overrides variables already set in the environment.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Source: SourceConfig{
			Driver:      v.GetString("source.driver"),
			BaseURL:     v.GetString("source.base_url"),
			Token:       v.GetString("source.token"),
			PageSize:    v.GetInt("source.page_size"),
			Timeout:     v.GetDuration("source.timeout"),
			FakeSeed:    v.GetInt64("source.fake_seed"),
			FakeRecords: v.GetInt("source.fake_records"),
		},
		Target: TargetConfig{
			BaseURL: v.GetString("target.base_url"),
			Token:   v.GetString("target.token"),
			Timeout: v.GetDuration("target.timeout"),
		},
		Sync: SyncConfig{
			BatchSize:         v.GetInt("sync.batch_size"),
			Concurrency:       v.GetInt("sync.concurrency"),
			MaxRetries:        v.GetInt("sync.max_retries"),
			RetryBaseDelay:    v.GetDuration("sync.retry_base_delay"),
			RetryMaxDelay:     v.GetDuration("sync.retry_max_delay"),
			RetryJitter:       v.GetFloat64("sync.retry_jitter"),
			RequestsPerMinute: v.GetFloat64("sync.requests_per_minute"),
			Burst:             v.GetInt("sync.burst"),
			DryRun:            v.GetBool("sync.dry_run"),
			MappingDir:        v.GetString("sync.mapping_dir"),
			Tolerance:         v.GetFloat64("sync.tolerance"),
		},
		Storage: StorageConfig{
			Backend: v.GetString("storage.backend"),
			Dir:     v.GetString("storage.dir"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Media: MediaConfig{
			Enabled:         v.GetBool("media.enabled"),
			Bucket:          v.GetString("media.bucket"),
			Region:          v.GetString("media.region"),
			Endpoint:        v.GetString("media.endpoint"),
			PublicBaseURL:   v.GetString("media.public_base_url"),
			UsePathStyle:    v.GetBool("media.use_path_style"),
			AccessKeyID:     v.GetString("media.access_key_id"),
			SecretAccessKey: v.GetString("media.secret_access_key"),
			KeyPrefix:       v.GetString("media.key_prefix"),
			MaxBytes:        v.GetInt64("media.max_bytes"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Admin: AdminConfig{
			Addr:         v.GetString("admin.addr"),
			ReadTimeout:  v.GetDuration("admin.read_timeout"),
			WriteTimeout: v.GetDuration("admin.write_timeout"),
			JWTSecret:    v.GetString("admin.jwt_secret"),
			JWTIssuer:    v.GetString("admin.jwt_issuer"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			PrometheusEnabled: v.GetBool("telemetry.prometheus_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeURL:      v.GetString("telemetry.pyroscope_url"),
		},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "commerce-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = "http"
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Source.FakeRecords == 0 {
		cfg.Source.FakeRecords = 120
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = 30 * time.Second
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 4
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = 5 * time.Second
	}
	if cfg.Sync.RetryMaxDelay == 0 {
		cfg.Sync.RetryMaxDelay = time.Minute
	}
	if cfg.Sync.RetryJitter == 0 {
		cfg.Sync.RetryJitter = 0.2
	}
	if cfg.Sync.RequestsPerMinute == 0 {
		cfg.Sync.RequestsPerMinute = 60
	}
	if cfg.Sync.Burst == 0 {
		cfg.Sync.Burst = 1
	}
	if cfg.Sync.Tolerance == 0 {
		cfg.Sync.Tolerance = 0.01
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = ".sync"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "commerce_sync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = filepath.Join(cfg.Storage.Dir, "sync.db")
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 2 * time.Hour
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = "us-east-1"
	}
	if cfg.Media.MaxBytes == 0 {
		cfg.Media.MaxBytes = 20 << 20 // 20MB
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = ":8090"
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = 15 * time.Second
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = 30 * time.Second
	}
	if cfg.Admin.JWTIssuer == "" {
		cfg.Admin.JWTIssuer = "commerce-sync"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "commerce-sync"
	}
	if cfg.Telemetry.PyroscopeURL == "" {
		cfg.Telemetry.PyroscopeURL = "http://localhost:4040"
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules. Every failure
// wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", configKey(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.Sync.RetryMaxDelay < c.Sync.RetryBaseDelay {
		return fmt.Errorf("%w: sync.retry_max_delay (%s) cannot be below sync.retry_base_delay (%s)",
			ErrInvalid, c.Sync.RetryMaxDelay, c.Sync.RetryBaseDelay)
	}
	if c.Storage.Backend == "database" {
		if c.Database.MaxIdleConns < 0 {
			return fmt.Errorf("%w: database.max_idle_conns cannot be negative", ErrInvalid)
		}
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return fmt.Errorf("%w: database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
				ErrInvalid, c.Database.MaxIdleConns, c.Database.MaxOpenConns)
		}
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("%w: telemetry.sampling_ratio must be between 0.0 and 1.0, got %f",
			ErrInvalid, c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Source.Driver == "fake" {
			return fmt.Errorf("%w: source.driver=fake is not allowed in production", ErrInvalid)
		}
		if c.Target.BaseURL == "" {
			return fmt.Errorf("%w: target.base_url is required in production", ErrInvalid)
		}
		if c.Admin.JWTSecret != "" && len(c.Admin.JWTSecret) < 32 {
			return fmt.Errorf("%w: admin.jwt_secret must be at least 32 characters in production", ErrInvalid)
		}
		if c.Storage.Backend == "database" && c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("%w: database.sslmode cannot be 'disable' in production", ErrInvalid)
		}
	}
	return nil
}

// ValidateForMigration adds the checks that only matter when records are
// actually moved: a reachable source and, unless dry-running, a target.
func (c *Config) ValidateForMigration(dryRun bool) error {
	if c.Source.Driver == "http" && c.Source.BaseURL == "" {
		return fmt.Errorf("%w: source.base_url is required for the http source driver", ErrInvalid)
	}
	if !dryRun && c.Target.BaseURL == "" {
		return fmt.Errorf("%w: target.base_url is required unless running with --dry-run", ErrInvalid)
	}
	return nil
}

// configKey turns a validator namespace like Config.Sync.BatchSize into sync.batchsize.
func configKey(namespace string) string {
	return strings.ToLower(strings.TrimPrefix(namespace, "Config."))
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
