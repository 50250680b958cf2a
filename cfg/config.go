// Package cfg holds the process-wide configuration: TOML file, CLI
// overrides, defaults.
package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// Driver names a storage backend implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverPebble Driver = "pebble"
)

// SQLiteConfiguration controls the SQLite driver.
type SQLiteConfiguration struct {
	Path          string `toml:"path"` // defaults to <data_dir>/apubsub.db
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// PebbleConfiguration controls the Pebble driver.
type PebbleConfiguration struct {
	Path        string `toml:"path"` // defaults to <data_dir>/pebble
	CacheSizeMB int64  `toml:"cache_size_mb"`
}

// QueueConfiguration controls in-memory message queues.
type QueueConfiguration struct {
	// MaxSize bounds each queue; apubsub.NoLimit (-1) disables the bound.
	MaxSize int `toml:"max_size"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// FormatterConfiguration controls message rendering.
type FormatterConfiguration struct {
	// Strict registries fail on unregistered message types instead of
	// falling back to the neutral formatter.
	Strict bool `toml:"strict"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	// Origin stamps messages sent from this process; auto-generated from
	// the machine id when empty.
	Origin  string `toml:"origin"`
	Driver  Driver `toml:"driver"`
	DataDir string `toml:"data_dir"`

	SQLite     SQLiteConfiguration     `toml:"sqlite"`
	Pebble     PebbleConfiguration     `toml:"pebble"`
	Queue      QueueConfiguration      `toml:"queue"`
	Formatter  FormatterConfiguration  `toml:"formatter"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	DriverFlag     = flag.String("driver", "", "Storage driver (overrides config)")
	OriginFlag     = flag.String("origin", "", "Origin id (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Verbose logging (overrides config)")
)

// Config is the live configuration, starting at defaults until Load runs.
var Config = &Configuration{
	Driver:  DriverMemory,
	DataDir: "./apubsub-data",

	SQLite: SQLiteConfiguration{
		BusyTimeoutMS: 5000,
	},
	Pebble: PebbleConfiguration{
		CacheSizeMB: 64,
	},
	Queue: QueueConfiguration{
		MaxSize: 500,
	},
	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *DriverFlag != "" {
		Config.Driver = Driver(*DriverFlag)
	}
	if *OriginFlag != "" {
		Config.Origin = *OriginFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.Origin == "" {
		origin, err := generateOrigin()
		if err != nil {
			return fmt.Errorf("failed to generate origin id: %w", err)
		}
		Config.Origin = origin
		log.Info().Str("origin", Config.Origin).Msg("Auto-generated origin id")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateOrigin derives a stable origin id from the machine id.
func generateOrigin() (string, error) {
	id, err := machineid.ProtectedID("apubsub")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks configuration for errors.
func Validate() error {
	switch Config.Driver {
	case DriverMemory, DriverSQLite, DriverPebble:
	default:
		return fmt.Errorf("unknown storage driver: %s", Config.Driver)
	}

	if Config.SQLite.BusyTimeoutMS < 0 {
		return fmt.Errorf("sqlite busy timeout must be >= 0")
	}
	if Config.Pebble.CacheSizeMB < 1 {
		return fmt.Errorf("pebble cache size must be >= 1 MB")
	}
	if Config.Queue.MaxSize < apubsub.NoLimit {
		return fmt.Errorf("queue max size must be >= 0, or %d for unbounded", apubsub.NoLimit)
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", Config.Prometheus.Port)
	}

	return nil
}

// SQLitePath returns the SQLite database path, defaulting into the data
// directory.
func SQLitePath() string {
	if Config.SQLite.Path != "" {
		return Config.SQLite.Path
	}
	return path.Join(Config.DataDir, "apubsub.db")
}

// PebblePath returns the Pebble store path, defaulting into the data
// directory.
func PebblePath() string {
	if Config.Pebble.Path != "" {
		return Config.Pebble.Path
	}
	return path.Join(Config.DataDir, "pebble")
}
