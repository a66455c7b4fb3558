package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 16, cfg.VersionLen)
	assert.Equal(t, 32, cfg.TelemetryCapacity)
	assert.Equal(t, 5*time.Minute, cfg.SyncPeriod)
	assert.Equal(t, 60*time.Second, cfg.SyncInitialDelay)
	assert.Equal(t, 5*time.Second, cfg.TimedDuration)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, types.LatchLatching, cfg.Latch())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORTUNUS_DEVICE_NAME", "door-042")
	t.Setenv("PORTUNUS_LATCH_MODE", "TIMED")
	t.Setenv("PORTUNUS_TIMED_DURATION", "8s")
	t.Setenv("PORTUNUS_VERSION_LEN", "24")
	t.Setenv("PORTUNUS_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("PORTUNUS_DEV_SEED_UIDS", "DEADBEEF, 01020304 ,")

	cfg := FromEnv()

	assert.Equal(t, "door-042", cfg.DeviceName)
	assert.Equal(t, types.LatchTimed, cfg.Latch())
	assert.Equal(t, 8*time.Second, cfg.TimedDuration)
	assert.Equal(t, 24, cfg.VersionLen)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, []string{"DEADBEEF", "01020304"}, cfg.DevSeedUIDs)
}

func TestFromEnv_MalformedValuesFailSoft(t *testing.T) {
	t.Setenv("PORTUNUS_ENV", "staging")
	t.Setenv("PORTUNUS_SYNC_PERIOD", "often")
	t.Setenv("PORTUNUS_TELEMETRY_CAPACITY", "-3")
	t.Setenv("PORTUNUS_SIMULATE_HW", "maybe")

	cfg := FromEnv()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.SyncPeriod)
	assert.Equal(t, 32, cfg.TelemetryCapacity)
	assert.False(t, cfg.SimulateHW)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portunus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_name: door-007
endpoint: https://access.example.org
reader_mode: remote
serial_device: /dev/ttyUSB0
sync_period: 2m
dev_seed_uids: ["04A22B1C"]
`), 0o600))

	t.Setenv("PORTUNUS_CONFIG", path)
	t.Setenv("PORTUNUS_SERIAL_DEVICE", "/dev/ttyS1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "door-007", cfg.DeviceName)
	assert.Equal(t, "https://access.example.org", cfg.Endpoint)
	assert.Equal(t, ReaderRemote, cfg.ReaderMode)
	assert.Equal(t, "/dev/ttyS1", cfg.SerialDevice, "env wins over file")
	assert.Equal(t, 2*time.Minute, cfg.SyncPeriod)
	assert.Equal(t, []string{"04A22B1C"}, cfg.DevSeedUIDs)
	assert.Equal(t, "logEvent", cfg.LogPrefix, "untouched defaults survive")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("PORTUNUS_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate_LongHoldAllowedWhenLatching(t *testing.T) {
	cfg := Defaults()
	cfg.LatchMode = LatchLatching
	cfg.TimedDuration = time.Minute
	cfg.WatchdogTimeout = 30 * time.Second
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty device":      func(c *Config) { c.DeviceName = " " },
		"bad endpoint":      func(c *Config) { c.Endpoint = "ftp://x" },
		"unknown latch":     func(c *Config) { c.LatchMode = "sticky" },
		"unknown reader":    func(c *Config) { c.ReaderMode = "nfc" },
		"zero sync period":  func(c *Config) { c.SyncPeriod = 0 },
		"zero version len":  func(c *Config) { c.VersionLen = 0 },
		"negative delay":    func(c *Config) { c.SyncInitialDelay = -time.Second },
		"zero remote baud":  func(c *Config) { c.ReaderMode = ReaderRemote; c.SerialBaud = 0 },
		"zero timed window": func(c *Config) { c.TimedDuration = 0 },
		"hold outlasts watchdog": func(c *Config) {
			c.LatchMode = LatchTimed
			c.TimedDuration = time.Minute
			c.WatchdogTimeout = 30 * time.Second
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
