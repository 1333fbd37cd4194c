package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the root application configuration, covering every key
// enumerated in spec.md §6 plus the ambient sections (logging, storage)
// the teacher's layered config carries for any deployable service.
type Config struct {
	Environment string           `toml:"environment" validate:"omitempty,oneof=development production"`
	Server      ServerConfig     `toml:"server"`
	Schema      SchemaConfig     `toml:"schema"`
	API         APIConfig        `toml:"api"`
	Bus         BusConfig        `toml:"bus"`
	Index       IndexConfig      `toml:"index"`
	Listener    ListenerConfig   `toml:"listener"`
	HistoryKey  HistoryKeyConfig `toml:"historyKey"`
	Sweep       SweepConfig      `toml:"sweep"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig is the HTTP surface's listen address (§6).
type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

// SchemaConfig names the two document schemas the engine reconciles (§6
// "schema.book, schema.contributor").
type SchemaConfig struct {
	Book        string `toml:"book" validate:"required"`
	Contributor string `toml:"contributor" validate:"required"`
}

// APIConfig holds HTTP-side operation timeouts (§6 "api.timeout").
type APIConfig struct {
	Timeout time.Duration `toml:"timeout" validate:"required"`
}

// BusConfig is the retry window applied to temporary failures (§5 "Retry
// discipline", §6 "bus.initialRetryInterval, bus.maxRetryInterval").
type BusConfig struct {
	InitialRetryInterval time.Duration `toml:"initialRetryInterval" validate:"required"`
	MaxRetryInterval     time.Duration `toml:"maxRetryInterval" validate:"required,gtefield=InitialRetryInterval"`
	QueueName            string        `toml:"queueName"`
	MaxReceive           int           `toml:"maxReceive" validate:"min=1"`
	Path                 string        `toml:"path" validate:"required"`
}

// IndexConfig targets the search backend (§6 "index.name,
// index.reindexChunk").
type IndexConfig struct {
	Name         string `toml:"name"`
	ReindexChunk int    `toml:"reindexChunk" validate:"min=1"`
	Disabled     bool   `toml:"disabled"`
}

// ListenerConfig covers the bus consumer's per-message timings and the
// exchange/binding/prefetch settings a real AMQP/Kafka binding would use
// (§6 "listener.*") — the in-process badger-backed queue honors the same
// shape even though there is only one physical transport.
type ListenerConfig struct {
	RetryInterval time.Duration      `toml:"retryInterval"`
	ActorTimeout  time.Duration      `toml:"actorTimeout" validate:"required"`
	Input         ListenerInputConfig `toml:"input"`
	Error         ListenerErrorConfig `toml:"error"`
	Distributor   ListenerDistConfig  `toml:"distributor"`
}

type ListenerInputConfig struct {
	Queue            string   `toml:"queue"`
	Exchange         string   `toml:"exchange"`
	ExchangeType     string   `toml:"exchangeType"`
	BindingArguments []string `toml:"bindingArguments"` // content-type filters
	Prefetch         int      `toml:"prefetch" validate:"min=1"`
}

type ListenerErrorConfig struct {
	Exchange       string        `toml:"exchange"`
	MessageTimeout time.Duration `toml:"messageTimeout"`
}

type ListenerDistConfig struct {
	Output ListenerDistOutputConfig `toml:"output"`
}

type ListenerDistOutputConfig struct {
	Exchange string `toml:"exchange"`
}

// HistoryKeyConfig configures the KeyExtractor's volatile-field strip list
// (§4.3 design note: operators may extend it without a code change).
type HistoryKeyConfig struct {
	VolatileFields []string `toml:"volatileFields"`
}

// SweepConfig drives the periodic sweep that re-merges current documents
// from their history sets (§5).
type SweepConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron expression
}

// StorageConfig holds the Badger (stores) and SQLite (index) connections.
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig is BadgerDB-specific configuration for the history/current
// stores (§4.4, §4.5).
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// SQLiteConfig is the FTS5 index bridge's connection configuration.
type SQLiteConfig struct {
	Path           string `toml:"path" validate:"required"`
	Environment    string `toml:"environment"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	CacheSizeMB    int    `toml:"cache_size_mb"`
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
	WALMode        bool   `toml:"wal_mode"`
}

// LoggingConfig configures arbor's console/file writers.
type LoggingConfig struct {
	Level      string   `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// NewDefaultConfig creates a configuration with default values. Technical
// parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in magrathea.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Schema: SchemaConfig{
			Book:        "book.v2",
			Contributor: "contributor.v2",
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Bus: BusConfig{
			InitialRetryInterval: 1 * time.Second,
			MaxRetryInterval:     5 * time.Minute,
			QueueName:            "magrathea_ingest",
			MaxReceive:           5,
			Path:                 "./data/bus",
		},
		Index: IndexConfig{
			Name:         "magrathea_current",
			ReindexChunk: 100,
			Disabled:     false,
		},
		Listener: ListenerConfig{
			RetryInterval: 1 * time.Second,
			ActorTimeout:  30 * time.Second,
			Input: ListenerInputConfig{
				Queue:            "magrathea.ingest",
				Exchange:         "magrathea.ingest",
				ExchangeType:     "direct",
				BindingArguments: []string{"application/vnd.magrathea.book+json", "application/vnd.magrathea.contributor+json"},
				Prefetch:         16,
			},
			Error: ListenerErrorConfig{
				Exchange:       "magrathea.deadletter",
				MessageTimeout: 24 * time.Hour,
			},
			Distributor: ListenerDistConfig{
				Output: ListenerDistOutputConfig{Exchange: "magrathea.indexed"},
			},
		},
		HistoryKey: HistoryKeyConfig{
			VolatileFields: []string{"processedAt", "system"},
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "0 */15 * * * *", // every 15 minutes
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			SQLite: SQLiteConfig{
				Path:          "./data/index.db",
				Environment:   "development",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile loads configuration from a single file (or defaults only,
// if path is empty), then applies environment overrides.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 ->
// file2 -> ... -> env. Later files override earlier files.
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

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

var validatorInstance = validator.New()

// Validate runs struct-tag validation over config (§6 enumerated keys).
func Validate(config *Config) error {
	return validatorInstance.Struct(config)
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MAGRATHEA_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("MAGRATHEA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MAGRATHEA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("MAGRATHEA_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if path := os.Getenv("MAGRATHEA_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("MAGRATHEA_BUS_PATH"); path != "" {
		config.Bus.Path = path
	}
	if level := os.Getenv("MAGRATHEA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("MAGRATHEA_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("MAGRATHEA_LOG_OUTPUT"); output != "" {
		outputs := splitAndTrim(output, ",")
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if disabled := os.Getenv("MAGRATHEA_INDEX_DISABLED"); disabled != "" {
		if d, err := strconv.ParseBool(disabled); err == nil {
			config.Index.Disabled = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (CLI
// flags have the highest priority, per the teacher's layering).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}
