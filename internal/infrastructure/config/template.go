package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// The file* types mirror Config with the TOML keys viper reads. Durations are
// written as strings ("30s") so the generated file round-trips through Load.

type fileConfig struct {
	App       fileApp       `toml:"app"`
	Source    fileSource    `toml:"source"`
	Target    fileTarget    `toml:"target"`
	Sync      fileSync      `toml:"sync"`
	Storage   fileStorage   `toml:"storage"`
	Database  fileDatabase  `toml:"database"`
	Redis     fileRedis     `toml:"redis"`
	Media     fileMedia     `toml:"media"`
	Log       fileLog       `toml:"log"`
	Admin     fileAdmin     `toml:"admin"`
	Telemetry fileTelemetry `toml:"telemetry"`
}

type fileApp struct {
	Name string `toml:"name"`
	Env  string `toml:"env"`
}

type fileSource struct {
	Driver      string `toml:"driver" comment:"http or fake"`
	BaseURL     string `toml:"base_url"`
	Token       string `toml:"token" comment:"prefer SYNC_SOURCE_TOKEN"`
	PageSize    int    `toml:"page_size"`
	Timeout     string `toml:"timeout"`
	FakeSeed    int64  `toml:"fake_seed"`
	FakeRecords int    `toml:"fake_records"`
}

type fileTarget struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token" comment:"prefer SYNC_TARGET_TOKEN"`
	Timeout string `toml:"timeout"`
}

type fileSync struct {
	BatchSize         int     `toml:"batch_size"`
	Concurrency       int     `toml:"concurrency"`
	MaxRetries        int     `toml:"max_retries"`
	RetryBaseDelay    string  `toml:"retry_base_delay"`
	RetryMaxDelay     string  `toml:"retry_max_delay"`
	RetryJitter       float64 `toml:"retry_jitter"`
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
	DryRun            bool    `toml:"dry_run"`
	MappingDir        string  `toml:"mapping_dir" comment:"empty uses the built-in mapping documents"`
	Tolerance         float64 `toml:"tolerance" comment:"order total tolerance in currency units"`
}

type fileStorage struct {
	Backend string `toml:"backend" comment:"file or database"`
	Dir     string `toml:"dir"`
}

type fileDatabase struct {
	Driver          string `toml:"driver" comment:"postgres or sqlite"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password" comment:"prefer SYNC_DATABASE_PASSWORD"`
	DBName          string `toml:"dbname"`
	SSLMode         string `toml:"sslmode"`
	SQLitePath      string `toml:"sqlite_path"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	LogLevel        string `toml:"log_level"`
}

type fileRedis struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	LockTTL  string `toml:"lock_ttl"`
}

type fileMedia struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	PublicBaseURL   string `toml:"public_base_url"`
	UsePathStyle    bool   `toml:"use_path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	KeyPrefix       string `toml:"key_prefix"`
	MaxBytes        int64  `toml:"max_bytes"`
}

type fileLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

type fileAdmin struct {
	Addr         string `toml:"addr"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	JWTSecret    string `toml:"jwt_secret" comment:"required by serve and token issue; prefer SYNC_ADMIN_JWT_SECRET"`
	JWTIssuer    string `toml:"jwt_issuer"`
}

type fileTelemetry struct {
	Enabled           bool    `toml:"enabled"`
	CollectorEndpoint string  `toml:"collector_endpoint"`
	SamplingRatio     float64 `toml:"sampling_ratio"`
	ServiceName       string  `toml:"service_name"`
	Insecure          bool    `toml:"insecure"`
	LogsEnabled       bool    `toml:"logs_enabled"`
	DBTraceEnabled    bool    `toml:"db_trace_enabled"`
	PrometheusEnabled bool    `toml:"prometheus_enabled"`
	ProfilingEnabled  bool    `toml:"profiling_enabled"`
	PyroscopeURL      string  `toml:"pyroscope_url"`
}

// toFile converts cfg into its TOML document shape. Secrets are never written.
func toFile(cfg *Config) fileConfig {
	return fileConfig{
		App: fileApp{Name: cfg.App.Name, Env: cfg.App.Env},
		Source: fileSource{
			Driver:      cfg.Source.Driver,
			BaseURL:     cfg.Source.BaseURL,
			PageSize:    cfg.Source.PageSize,
			Timeout:     cfg.Source.Timeout.String(),
			FakeSeed:    cfg.Source.FakeSeed,
			FakeRecords: cfg.Source.FakeRecords,
		},
		Target: fileTarget{
			BaseURL: cfg.Target.BaseURL,
			Timeout: cfg.Target.Timeout.String(),
		},
		Sync: fileSync{
			BatchSize:         cfg.Sync.BatchSize,
			Concurrency:       cfg.Sync.Concurrency,
			MaxRetries:        cfg.Sync.MaxRetries,
			RetryBaseDelay:    cfg.Sync.RetryBaseDelay.String(),
			RetryMaxDelay:     cfg.Sync.RetryMaxDelay.String(),
			RetryJitter:       cfg.Sync.RetryJitter,
			RequestsPerMinute: cfg.Sync.RequestsPerMinute,
			Burst:             cfg.Sync.Burst,
			DryRun:            cfg.Sync.DryRun,
			MappingDir:        cfg.Sync.MappingDir,
			Tolerance:         cfg.Sync.Tolerance,
		},
		Storage: fileStorage{Backend: cfg.Storage.Backend, Dir: cfg.Storage.Dir},
		Database: fileDatabase{
			Driver:          cfg.Database.Driver,
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			SQLitePath:      cfg.Database.SQLitePath,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime.String(),
			LogLevel:        cfg.Database.LogLevel,
		},
		Redis: fileRedis{
			Enabled: cfg.Redis.Enabled,
			Host:    cfg.Redis.Host,
			Port:    cfg.Redis.Port,
			DB:      cfg.Redis.DB,
			LockTTL: cfg.Redis.LockTTL.String(),
		},
		Media: fileMedia{
			Enabled:       cfg.Media.Enabled,
			Bucket:        cfg.Media.Bucket,
			Region:        cfg.Media.Region,
			Endpoint:      cfg.Media.Endpoint,
			PublicBaseURL: cfg.Media.PublicBaseURL,
			UsePathStyle:  cfg.Media.UsePathStyle,
			KeyPrefix:     cfg.Media.KeyPrefix,
			MaxBytes:      cfg.Media.MaxBytes,
		},
		Log: fileLog{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output},
		Admin: fileAdmin{
			Addr:         cfg.Admin.Addr,
			ReadTimeout:  cfg.Admin.ReadTimeout.String(),
			WriteTimeout: cfg.Admin.WriteTimeout.String(),
			JWTIssuer:    cfg.Admin.JWTIssuer,
		},
		Telemetry: fileTelemetry{
			Enabled:           cfg.Telemetry.Enabled,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			SamplingRatio:     cfg.Telemetry.SamplingRatio,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
			LogsEnabled:       cfg.Telemetry.LogsEnabled,
			DBTraceEnabled:    cfg.Telemetry.DBTraceEnabled,
			PrometheusEnabled: cfg.Telemetry.PrometheusEnabled,
			ProfilingEnabled:  cfg.Telemetry.ProfilingEnabled,
			PyroscopeURL:      cfg.Telemetry.PyroscopeURL,
		},
	}
}

// WriteTemplate writes cfg as a syncctl.toml document.
func WriteTemplate(w io.Writer, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(toFile(cfg)); err != nil {
		return fmt.Errorf("encode config template: %w", err)
	}
	return nil
}

// GenerateTemplate writes the default configuration to path. An existing file
// is only replaced when force is set.
func GenerateTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	var buf bytes.Buffer
	buf.WriteString("# commerce-sync configuration. Every key can be overridden with SYNC_<SECTION>_<KEY>.\n\n")
	if err := WriteTemplate(&buf, Default()); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
