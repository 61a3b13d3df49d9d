// Package config loads service settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-import/internal/staging"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "IMPORT_CONFIG"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Import    ImportConfig    `yaml:"import"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Root is the import root directory. Relative paths are made absolute.
	Root           string `yaml:"root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MirrorConfig enables the GCS copy of stored files when Bucket is set.
type MirrorConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// WarehouseConfig enables the BigQuery export when Project is set.
type WarehouseConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`
}

type ImportConfig struct {
	DefaultCurrency string        `yaml:"default_currency"`
	ExtraCurrencies []string      `yaml:"extra_currencies"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Retention and MaxFinished bound how many completed or failed jobs
	// stay queryable. Zero disables the bound.
	Retention   time.Duration `yaml:"retention"`
	MaxFinished int           `yaml:"max_finished"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", ShutdownTimeout: 30 * time.Second},
		Storage:  StorageConfig{Root: "imports", MaxUploadBytes: 50 << 20},
		Database: DatabaseConfig{Driver: string(staging.DialectSQLite), DSN: "staging.db"},
		Warehouse: WarehouseConfig{
			Dataset: "finance",
			Table:   "staged_rows",
		},
		Import: ImportConfig{DefaultCurrency: "USD", StaleAfter: 30 * time.Minute},
		Jobs:   JobsConfig{Workers: 4, QueueSize: 100, MaxRetries: 3, RetryBackoff: time.Second, Retention: 24 * time.Hour, MaxFinished: 1000},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path may be empty, in which case
// IMPORT_CONFIG is consulted. With neither set only defaults and environment
// overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(PathEnv)
		explicit = path != ""
	}
	if explicit {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Storage.Root = getEnv("IMPORT_ROOT", c.Storage.Root)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Mirror.Bucket = getEnv("GCS_BUCKET", c.Mirror.Bucket)
	c.Mirror.Prefix = getEnv("GCS_PREFIX", c.Mirror.Prefix)
	c.Mirror.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", c.Mirror.CredentialsFile)
	c.Warehouse.Project = getEnv("BQ_PROJECT", c.Warehouse.Project)
	c.Warehouse.Dataset = getEnv("BQ_DATASET", c.Warehouse.Dataset)
	c.Warehouse.Table = getEnv("BQ_TABLE", c.Warehouse.Table)
	c.Import.DefaultCurrency = getEnv("DEFAULT_CURRENCY", c.Import.DefaultCurrency)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Storage.MaxUploadBytes, err = getInt64Env("MAX_UPLOAD_BYTES", c.Storage.MaxUploadBytes); err != nil {
		return err
	}
	if c.Jobs.Workers, err = getIntEnv("JOB_WORKERS", c.Jobs.Workers); err != nil {
		return err
	}
	if c.Jobs.QueueSize, err = getIntEnv("JOB_QUEUE_SIZE", c.Jobs.QueueSize); err != nil {
		return err
	}
	if c.Jobs.MaxRetries, err = getIntEnv("JOB_MAX_RETRIES", c.Jobs.MaxRetries); err != nil {
		return err
	}
	if c.Jobs.MaxFinished, err = getIntEnv("JOB_MAX_FINISHED", c.Jobs.MaxFinished); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.Root) == "" {
		errs = append(errs, errors.New("IMPORT_ROOT is required"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Storage.MaxUploadBytes))
	}
	if _, err := staging.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("DB_DRIVER: %w", err))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if len(strings.TrimSpace(c.Import.DefaultCurrency)) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.Import.DefaultCurrency))
	}
	if c.Warehouse.Project != "" && (c.Warehouse.Dataset == "" || c.Warehouse.Table == "") {
		errs = append(errs, errors.New("BQ_DATASET and BQ_TABLE are required when BQ_PROJECT is set"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers))
	}
	if c.Jobs.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("JOB_QUEUE_SIZE must not be negative, got %d", c.Jobs.QueueSize))
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("JOB_MAX_RETRIES must not be negative, got %d", c.Jobs.MaxRetries))
	}
	if c.Jobs.MaxFinished < 0 {
		errs = append(errs, fmt.Errorf("JOB_MAX_FINISHED must not be negative, got %d", c.Jobs.MaxFinished))
	}
	if c.Jobs.Retention < 0 {
		errs = append(errs, fmt.Errorf("jobs.retention must not be negative, got %s", c.Jobs.Retention))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// MirrorEnabled reports whether stored files are copied to GCS.
func (c *Config) MirrorEnabled() bool { return c.Mirror.Bucket != "" }

// WarehouseEnabled reports whether populated batches are exported to BigQuery.
func (c *Config) WarehouseEnabled() bool { return c.Warehouse.Project != "" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64Env(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
