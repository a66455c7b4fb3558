package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

const (
	ReaderLocal  = "local"
	ReaderRemote = "remote"

	LatchLatching = "latching"
	LatchTimed    = "timed"
)

type Config struct {
	Env        string `yaml:"env"` // "dev" | "prod"
	DeviceName string `yaml:"device_name"`

	// Remote catalog and telemetry endpoint
	Endpoint           string        `yaml:"endpoint"`
	CatalogPrefix      string        `yaml:"catalog_prefix"`
	VersionPrefix      string        `yaml:"version_prefix"`
	LogPrefix          string        `yaml:"log_prefix"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	CatalogTimeout     time.Duration `yaml:"catalog_timeout"`
	VersionLen         int           `yaml:"version_len"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	NetworkInterface   string        `yaml:"network_interface"` // "" = any

	// Access decisions
	LatchMode     string        `yaml:"latch_mode"`
	TimedDuration time.Duration `yaml:"timed_duration"`

	// Credential sync
	SyncPeriod       time.Duration `yaml:"sync_period"`
	SyncInitialDelay time.Duration `yaml:"sync_initial_delay"`

	// Telemetry queue
	TelemetryCapacity int           `yaml:"telemetry_capacity"`
	TelemetryCooldown time.Duration `yaml:"telemetry_cooldown"`

	// DB
	DBPath string `yaml:"db_path"` // e.g. "./data/credentials.db"

	// Reader and outputs
	ReaderMode      string        `yaml:"reader_mode"`
	SerialDevice    string        `yaml:"serial_device"`
	SerialBaud      int           `yaml:"serial_baud"`
	SPIPort         string        `yaml:"spi_port"`
	ReaderResetPin  string        `yaml:"reader_reset_pin"`
	ReaderIRQPin    string        `yaml:"reader_irq_pin"`
	ReaderTimeout   time.Duration `yaml:"reader_timeout"`
	RelayPin        string        `yaml:"relay_pin"`
	AllowedLEDPin   string        `yaml:"allowed_led_pin"`
	DeniedLEDPin    string        `yaml:"denied_led_pin"`
	SimulateHW      bool          `yaml:"simulate_hw"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// Local status surfaces
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	// DevSeedUIDs are raw card UIDs (hex) installed while the store has
	// never synced. Ignored outside dev.
	DevSeedUIDs []string `yaml:"dev_seed_uids"`
}

func Defaults() Config {
	return Config{
		Env:        "dev",
		DeviceName: "door-001",

		Endpoint:       "http://localhost:8000",
		CatalogPrefix:  "db",
		VersionPrefix:  "dbVersion",
		LogPrefix:      "logEvent",
		HTTPTimeout:    10 * time.Second,
		CatalogTimeout: 2 * time.Minute,
		VersionLen:     16,

		LatchMode:     LatchLatching,
		TimedDuration: 5 * time.Second,

		SyncPeriod:       5 * time.Minute,
		SyncInitialDelay: 60 * time.Second,

		TelemetryCapacity: 32,
		TelemetryCooldown: 60 * time.Second,

		DBPath: "./data/credentials.db",

		ReaderMode:      ReaderLocal,
		SerialDevice:    "/dev/ttyAMA0",
		SerialBaud:      115200,
		ReaderResetPin:  "GPIO25",
		ReaderIRQPin:    "GPIO24",
		ReaderTimeout:   time.Second,
		RelayPin:        "GPIO17",
		AllowedLEDPin:   "GPIO27",
		DeniedLEDPin:    "GPIO22",
		WatchdogTimeout: 30 * time.Second,

		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// PORTUNUS_CONFIG (if any) and PORTUNUS_* environment variables, in that
// order, and validates the result.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("PORTUNUS_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Defaults overlaid with the environment, without a file or
// validation.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Env = strings.ToLower(getenvDefault("PORTUNUS_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.DeviceName = getenvDefault("PORTUNUS_DEVICE_NAME", c.DeviceName)

	c.Endpoint = getenvDefault("PORTUNUS_ENDPOINT", c.Endpoint)
	c.CatalogPrefix = getenvDefault("PORTUNUS_CATALOG_PREFIX", c.CatalogPrefix)
	c.VersionPrefix = getenvDefault("PORTUNUS_VERSION_PREFIX", c.VersionPrefix)
	c.LogPrefix = getenvDefault("PORTUNUS_LOG_PREFIX", c.LogPrefix)
	c.HTTPTimeout = getenvDuration("PORTUNUS_HTTP_TIMEOUT", c.HTTPTimeout)
	c.CatalogTimeout = getenvDuration("PORTUNUS_CATALOG_TIMEOUT", c.CatalogTimeout)
	c.VersionLen = getenvInt("PORTUNUS_VERSION_LEN", c.VersionLen)
	c.InsecureSkipVerify = getenvBool("PORTUNUS_INSECURE_SKIP_VERIFY", c.InsecureSkipVerify)
	c.NetworkInterface = getenvDefault("PORTUNUS_NETWORK_INTERFACE", c.NetworkInterface)

	c.LatchMode = strings.ToLower(getenvDefault("PORTUNUS_LATCH_MODE", c.LatchMode))
	c.TimedDuration = getenvDuration("PORTUNUS_TIMED_DURATION", c.TimedDuration)

	c.SyncPeriod = getenvDuration("PORTUNUS_SYNC_PERIOD", c.SyncPeriod)
	c.SyncInitialDelay = getenvDuration("PORTUNUS_SYNC_INITIAL_DELAY", c.SyncInitialDelay)

	c.TelemetryCapacity = getenvInt("PORTUNUS_TELEMETRY_CAPACITY", c.TelemetryCapacity)
	c.TelemetryCooldown = getenvDuration("PORTUNUS_TELEMETRY_COOLDOWN", c.TelemetryCooldown)

	c.DBPath = getenvDefault("PORTUNUS_DB_PATH", c.DBPath)

	c.ReaderMode = strings.ToLower(getenvDefault("PORTUNUS_READER_MODE", c.ReaderMode))
	c.SerialDevice = getenvDefault("PORTUNUS_SERIAL_DEVICE", c.SerialDevice)
	c.SerialBaud = getenvInt("PORTUNUS_SERIAL_BAUD", c.SerialBaud)
	c.SPIPort = getenvDefault("PORTUNUS_SPI_PORT", c.SPIPort)
	c.ReaderResetPin = getenvDefault("PORTUNUS_READER_RESET_PIN", c.ReaderResetPin)
	c.ReaderIRQPin = getenvDefault("PORTUNUS_READER_IRQ_PIN", c.ReaderIRQPin)
	c.ReaderTimeout = getenvDuration("PORTUNUS_READER_TIMEOUT", c.ReaderTimeout)
	c.RelayPin = getenvDefault("PORTUNUS_RELAY_PIN", c.RelayPin)
	c.AllowedLEDPin = getenvDefault("PORTUNUS_ALLOWED_LED_PIN", c.AllowedLEDPin)
	c.DeniedLEDPin = getenvDefault("PORTUNUS_DENIED_LED_PIN", c.DeniedLEDPin)
	c.SimulateHW = getenvBool("PORTUNUS_SIMULATE_HW", c.SimulateHW)
	c.WatchdogTimeout = getenvDuration("PORTUNUS_WATCHDOG_TIMEOUT", c.WatchdogTimeout)

	c.HTTPAddr = getenvDefault("PORTUNUS_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("PORTUNUS_GRPC_ADDR", c.GRPCAddr)

	if v := splitCSV(os.Getenv("PORTUNUS_DEV_SEED_UIDS")); v != nil {
		c.DevSeedUIDs = v
	}
}

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DeviceName) == "" {
		errs = append(errs, errors.New("device_name is required"))
	}
	if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint))
	}
	if c.LatchMode != LatchLatching && c.LatchMode != LatchTimed {
		errs = append(errs, fmt.Errorf("latch_mode %q must be %q or %q", c.LatchMode, LatchLatching, LatchTimed))
	}
	if c.ReaderMode != ReaderLocal && c.ReaderMode != ReaderRemote {
		errs = append(errs, fmt.Errorf("reader_mode %q must be %q or %q", c.ReaderMode, ReaderLocal, ReaderRemote))
	}
	if c.ReaderMode == ReaderRemote && c.SerialBaud <= 0 {
		errs = append(errs, errors.New("serial_baud must be positive"))
	}
	if c.VersionLen <= 0 {
		errs = append(errs, errors.New("version_len must be positive"))
	}
	if c.TelemetryCapacity <= 0 {
		errs = append(errs, errors.New("telemetry_capacity must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"http_timeout":       c.HTTPTimeout,
		"catalog_timeout":    c.CatalogTimeout,
		"timed_duration":     c.TimedDuration,
		"sync_period":        c.SyncPeriod,
		"telemetry_cooldown": c.TelemetryCooldown,
		"reader_timeout":     c.ReaderTimeout,
		"watchdog_timeout":   c.WatchdogTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SyncInitialDelay < 0 {
		errs = append(errs, errors.New("sync_initial_delay must not be negative"))
	}
	if c.LatchMode == LatchTimed && c.WatchdogTimeout > 0 && c.TimedDuration >= c.WatchdogTimeout {
		errs = append(errs, fmt.Errorf("timed_duration %s must be shorter than watchdog_timeout %s", c.TimedDuration, c.WatchdogTimeout))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Latch returns the configured latch mode.
func (c Config) Latch() types.LatchMode {
	if c.LatchMode == LatchTimed {
		return types.LatchTimed
	}
	return types.LatchLatching
}

func (c Config) IsDev() bool { return c.Env == "dev" }

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
