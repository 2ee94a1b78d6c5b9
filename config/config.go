// Package config defines the small, validated configuration record the
// rest of this module consumes (spec.md §6: "a small surface the core
// consumes, not a framework"). Flag parsing and environment-variable
// binding live here too, since both collapse into nothing more than
// producing a Config; the CLI entry point in cmd/mqttmountd only calls
// RegisterFlags and Load.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of parameters mqttmount.Context needs
// to run, per spec.md §6.
type Config struct {
	Host       string
	Port       uint16
	Keepalive  time.Duration
	Holdback   time.Duration
	Mountpoint string
}

// Defaults match spec.md §6's suggested starting points: a standard MQTT
// port, a keepalive comfortably inside most brokers' default timeout,
// and a short holdback long enough to coalesce bursty writes without
// feeling laggy to an interactive user.
const (
	DefaultHost      = "localhost"
	DefaultPort      = 1883
	DefaultKeepalive = 60 * time.Second
	DefaultHoldback  = 200 * time.Millisecond
)

const envPrefix = "MQTTMOUNT"

// RegisterFlags adds this package's flags to fs, so cmd/mqttmountd's
// main can call pflag.Parse (or parse a custom argv slice in tests)
// exactly once before calling Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", DefaultHost, "MQTT broker host")
	fs.Uint16("port", DefaultPort, "MQTT broker port")
	fs.Duration("keepalive", DefaultKeepalive, "MQTT keepalive interval")
	fs.Duration("holdback", DefaultHoldback, "delay before a WRITE's PUBLISH reaches the broker, to allow Cancel")
	fs.String("mountpoint", "", "directory to mount the topic tree at")
}

// Load resolves a Config from fs (already parsed) overlaid with
// MQTTMOUNT_* environment variables, the same pflag+viper pairing the
// teacher's production consumer (gcsfuse) uses for its own mount flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	cfg := Config{
		Host:       v.GetString("host"),
		Port:       v.GetUint16("port"),
		Keepalive:  v.GetDuration("keepalive"),
		Holdback:   v.GetDuration("holdback"),
		Mountpoint: v.GetString("mountpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that cfg is usable, returning the first problem found.
func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.New("config: host is required")
	}
	if cfg.Port == 0 {
		return errors.New("config: port must be nonzero")
	}
	if cfg.Keepalive <= 0 {
		return errors.New("config: keepalive must be positive")
	}
	if cfg.Holdback < 0 {
		return fmt.Errorf("config: holdback must not be negative, got %s", cfg.Holdback)
	}
	if cfg.Mountpoint == "" {
		return errors.New("config: mountpoint is required")
	}
	return nil
}
