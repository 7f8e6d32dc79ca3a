// Package config loads the daemon configuration from an optional YAML file,
// AUDIOROUTE_* environment variables and built-in defaults, in increasing
// order of precedence: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/hardware"
)

var pcmNode = regexp.MustCompile(`^pcmC[0-9]+D[0-9]+[pc]$`)

// EnvPrefix is the prefix of environment overrides, e.g. AUDIOROUTE_ADDR or
// AUDIOROUTE_OPEN_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "AUDIOROUTE"

// OpenRetry bounds stream-open retries.
type OpenRetry struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// Policy converts to the hardware retry policy.
func (o OpenRetry) Policy() hardware.RetryPolicy {
	return hardware.RetryPolicy{
		MaxAttempts:     o.MaxAttempts,
		InitialInterval: o.InitialInterval,
		MaxInterval:     o.MaxInterval,
	}
}

// Hotplug configures the state sources.
type Hotplug struct {
	// WatcherCmd is a shell command printing event lines; empty disables it.
	WatcherCmd string `mapstructure:"watcher_cmd"`
	// StateDir is watched for event files; empty disables it.
	StateDir string `mapstructure:"state_dir"`
	Bluez    bool   `mapstructure:"bluez"`
	// JackPin is the BCM name of the jack-detect GPIO; empty disables it.
	JackPin string `mapstructure:"jack_pin"`
}

// Gateway configures the ALSA gateway.
type Gateway struct {
	OpsPerSecond int    `mapstructure:"ops_per_second"`
	MixerCmd     string `mapstructure:"mixer_cmd"`
	// Paths maps a route profile or usecase to the mixer controls it sets.
	Paths map[string][]hardware.MixerPath `mapstructure:"paths"`
	// Devices maps a route profile to its PCM node, e.g. pcmC0D0p.
	Devices map[string]string `mapstructure:"devices"`
}

// Auth configures API access control.
type Auth struct {
	// KeysFile holds the client keys; empty or missing leaves the API open.
	KeysFile string `mapstructure:"keys_file"`
}

// Config is the daemon configuration.
type Config struct {
	Variant        string    `mapstructure:"variant"`
	CatalogFile    string    `mapstructure:"catalog_file"`
	Addr           string    `mapstructure:"addr"`
	Debug          bool      `mapstructure:"debug"`
	StrictRefcount bool      `mapstructure:"strict_refcount"`
	Mock           bool      `mapstructure:"mock"`
	MDNS           bool      `mapstructure:"mdns"`
	OpenRetry      OpenRetry `mapstructure:"open_retry"`
	Hotplug        Hotplug   `mapstructure:"hotplug"`
	Gateway        Gateway   `mapstructure:"gateway"`
	Auth           Auth      `mapstructure:"auth"`
}

func setDefaults(v *viper.Viper) {
	def := hardware.DefaultRetryPolicy()
	v.SetDefault("variant", "reference")
	v.SetDefault("catalog_file", "")
	v.SetDefault("addr", ":8090")
	v.SetDefault("debug", false)
	v.SetDefault("strict_refcount", true)
	v.SetDefault("mock", false)
	v.SetDefault("mdns", true)
	v.SetDefault("open_retry.max_attempts", def.MaxAttempts)
	v.SetDefault("open_retry.initial_interval", def.InitialInterval)
	v.SetDefault("open_retry.max_interval", def.MaxInterval)
	v.SetDefault("hotplug.watcher_cmd", "")
	v.SetDefault("hotplug.state_dir", "")
	v.SetDefault("hotplug.bluez", false)
	v.SetDefault("hotplug.jack_pin", "")
	v.SetDefault("gateway.ops_per_second", 200)
	v.SetDefault("gateway.mixer_cmd", "amixer")
	v.SetDefault("auth.keys_file", "")
}

// Load reads path (if non-empty) and the environment. A missing file named
// explicitly is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	if c.CatalogFile == "" {
		known := false
		for _, n := range catalog.Variants() {
			if n == c.Variant {
				known = true
			}
		}
		if !known {
			return fmt.Errorf("config: unknown variant %q (known: %v)", c.Variant, catalog.Variants())
		}
	}
	if c.Addr == "" {
		return errors.New("config: addr is required")
	}
	if c.OpenRetry.MaxAttempts < 1 {
		return fmt.Errorf("config: open_retry.max_attempts must be at least 1, got %d", c.OpenRetry.MaxAttempts)
	}
	if c.OpenRetry.InitialInterval <= 0 || c.OpenRetry.MaxInterval < c.OpenRetry.InitialInterval {
		return fmt.Errorf("config: open_retry intervals invalid (%s, %s)", c.OpenRetry.InitialInterval, c.OpenRetry.MaxInterval)
	}
	if c.Gateway.OpsPerSecond < 0 {
		return fmt.Errorf("config: gateway.ops_per_second must not be negative")
	}
	for profile, path := range c.Gateway.Paths {
		for i, p := range path {
			if p.Control == "" || p.Value == "" {
				return fmt.Errorf("config: gateway.paths.%s[%d] needs control and value", profile, i)
			}
		}
	}
	for profile, node := range c.Gateway.Devices {
		if !pcmNode.MatchString(node) {
			return fmt.Errorf("config: gateway.devices.%s: %q is not a pcm node name", profile, node)
		}
	}
	return nil
}

// Catalog loads the route catalog the configuration names.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if c.CatalogFile != "" {
		return catalog.LoadFile(c.CatalogFile)
	}
	return catalog.Builtin(c.Variant)
}
