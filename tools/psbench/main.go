package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/cfg"
	"github.com/makinacorpus/apubsub-sub001/memory"
	"github.com/makinacorpus/apubsub-sub001/pebble"
	"github.com/makinacorpus/apubsub-sub001/sqlite"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "load":
		runLoad(args)
	case "run":
		runBenchmark(args)
	case "version":
		fmt.Printf("psbench version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`psbench - pub/sub store benchmark tool

Usage:
  psbench <command> [options]

Commands:
  load      Create channels and subscriptions
  run       Run send/fetch workload
  version   Print version
  help      Show this help

Load Options:
  --config        Path to configuration file (default: config.toml)
  --channels      Number of channels to create (default: 10)
  --subscribers   Subscribers per channel (default: 10)

Run Options:
  --config        Path to configuration file (default: config.toml)
  --channels      Number of channels to target (default: 10)
  --operations    Total operations to execute (default: 50000)
  --threads       Number of concurrent workers (default: 10)
  --send-pct      Send percentage of the mix (default: 30)
  --payload       Payload size in bytes (default: 256)`)
}

// setupLogging configures the global logger the same way the daemon does.
func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("origin", cfg.Config.Origin).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// openBackend builds the configured storage driver.
func openBackend() (apubsub.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Config.Prometheus.Enabled {
		telemetry.Initialize(cfg.Config.Origin)
		telemetry.Serve(cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)
	}

	switch cfg.Config.Driver {
	case cfg.DriverMemory:
		return memory.New(), nil
	case cfg.DriverSQLite:
		return sqlite.New(cfg.SQLitePath(), cfg.Config.SQLite.BusyTimeoutMS)
	case cfg.DriverPebble:
		return pebble.New(cfg.PebblePath(), cfg.Config.Pebble.CacheSizeMB)
	}
	return nil, fmt.Errorf("unknown storage driver: %s", cfg.Config.Driver)
}
