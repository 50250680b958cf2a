package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// snapshotConfig restores the package-level Config after the test.
func snapshotConfig(t *testing.T) {
	t.Helper()
	saved := *Config
	t.Cleanup(func() { *Config = saved })
}

func TestDefaults(t *testing.T) {
	snapshotConfig(t)

	require.Equal(t, DriverMemory, Config.Driver)
	require.Equal(t, 5000, Config.SQLite.BusyTimeoutMS)
	require.EqualValues(t, 64, Config.Pebble.CacheSizeMB)
	require.Equal(t, 500, Config.Queue.MaxSize)
	require.Equal(t, "console", Config.Logging.Format)
	require.False(t, Config.Prometheus.Enabled)
	require.NoError(t, Validate())
}

func TestLoadFromFile(t *testing.T) {
	snapshotConfig(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	contents := `
origin = "test-origin"
driver = "pebble"
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[pebble]
cache_size_mb = 16

[queue]
max_size = 100

[logging]
verbose = true
format = "json"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0644))

	require.NoError(t, Load(cfgPath))

	require.Equal(t, "test-origin", Config.Origin)
	require.Equal(t, DriverPebble, Config.Driver)
	require.EqualValues(t, 16, Config.Pebble.CacheSizeMB)
	require.Equal(t, 100, Config.Queue.MaxSize)
	require.True(t, Config.Logging.Verbose)
	require.Equal(t, "json", Config.Logging.Format)
	require.NoError(t, Validate())

	// Load creates the data directory.
	info, err := os.Stat(Config.DataDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	snapshotConfig(t)

	Config.DataDir = t.TempDir()
	Config.Origin = "preset"

	require.NoError(t, Load(filepath.Join(t.TempDir(), "nope.toml")))
	require.Equal(t, DriverMemory, Config.Driver)
	require.Equal(t, "preset", Config.Origin)
}

func TestLoadGeneratesOrigin(t *testing.T) {
	snapshotConfig(t)

	Config.DataDir = t.TempDir()
	Config.Origin = ""

	require.NoError(t, Load(""))
	require.NotEmpty(t, Config.Origin)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func()
	}{
		{"unknown driver", func() { Config.Driver = "etcd" }},
		{"negative busy timeout", func() { Config.SQLite.BusyTimeoutMS = -1 }},
		{"zero pebble cache", func() { Config.Pebble.CacheSizeMB = 0 }},
		{"queue size below the unbounded sentinel", func() { Config.Queue.MaxSize = -2 }},
		{"unknown log format", func() { Config.Logging.Format = "xml" }},
		{"bad metrics port", func() {
			Config.Prometheus.Enabled = true
			Config.Prometheus.Port = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshotConfig(t)
			tc.mutate()
			require.Error(t, Validate())
		})
	}
}

func TestValidateUnboundedQueue(t *testing.T) {
	snapshotConfig(t)

	Config.Queue.MaxSize = apubsub.NoLimit
	require.NoError(t, Validate())
}

func TestPathDefaults(t *testing.T) {
	snapshotConfig(t)

	Config.DataDir = "/var/lib/apubsub"
	Config.SQLite.Path = ""
	Config.Pebble.Path = ""

	require.Equal(t, "/var/lib/apubsub/apubsub.db", SQLitePath())
	require.Equal(t, "/var/lib/apubsub/pebble", PebblePath())

	Config.SQLite.Path = "/tmp/custom.db"
	Config.Pebble.Path = "/tmp/custom-pebble"
	require.Equal(t, "/tmp/custom.db", SQLitePath())
	require.Equal(t, "/tmp/custom-pebble", PebblePath())
}
