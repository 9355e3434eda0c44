package cartwatch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lesshq/cartwatch/permit"
)

// Config is the top-level cartwatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Pages    []PageConfig   `yaml:"pages"`
	Storage  StorageConfig  `yaml:"storage"`
	Permit   permit.Config  `yaml:"permit"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Report   ReportConfig   `yaml:"report"`
	Admin    AdminConfig    `yaml:"admin"`
	Profiles ProfileConfig  `yaml:"profiles"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	// Remote is the URL of an external Chrome; empty launches locally.
	Remote  string `yaml:"remote"`
	Headful bool   `yaml:"headful"`
	Stealth bool   `yaml:"stealth"`
}

// PageConfig names one page to observe.
type PageConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig locates the two databases: the profile catalog and the
// key-value state store (permits, carts).
type StorageConfig struct {
	ProfileDB string `yaml:"profile_db"`
	StateDB   string `yaml:"state_db"`
}

// DispatchConfig tunes the change-dispatch loop.
type DispatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// ReportConfig selects the failure collector. Empty URL logs locally.
type ReportConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// AdminConfig controls the HTTP admin surface. Empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// ProfileConfig controls profile loading.
type ProfileConfig struct {
	// SeedFile is a YAML file of profiles imported into the catalog at
	// startup (development convenience; the catalog stays authoritative).
	SeedFile string `yaml:"seed_file"`
	// ReloadInterval is how often the catalog is polled for changes.
	ReloadInterval time.Duration `yaml:"reload_interval"`
	// ReloadDebounce is the quiet period before a reload fires.
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

// LoadConfigFile reads a YAML configuration file and applies defaults and
// environment overrides.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cartwatch: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cartwatch: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.ProfileDB == "" {
		c.Storage.ProfileDB = "cartwatch-profiles.db"
	}
	if c.Storage.StateDB == "" {
		c.Storage.StateDB = "cartwatch-state.db"
	}
	if c.Dispatch.Debounce <= 0 {
		c.Dispatch.Debounce = 100 * time.Millisecond
	}
	if c.Profiles.ReloadInterval <= 0 {
		c.Profiles.ReloadInterval = time.Second
	}
	if c.Profiles.ReloadDebounce <= 0 {
		c.Profiles.ReloadDebounce = 500 * time.Millisecond
	}

	// Permit durations may arrive from the environment, either as Go
	// durations ("24h") or bare milliseconds.
	c.Permit.WaitTime = envDuration("CARTWATCH_WAIT_TIME", c.Permit.WaitTime)
	c.Permit.WindowLength = envDuration("CARTWATCH_WINDOW_LENGTH", c.Permit.WindowLength)
	c.Permit.GracePeriod = envDuration("CARTWATCH_GRACE_PERIOD", c.Permit.GracePeriod)
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
