package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount/config"
)

func parse(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadAppliesDefaultsWhenOnlyMountpointGiven(t *testing.T) {
	fs := parse(t, "--mountpoint=/mnt/mqtt")

	cfg, err := config.Load(fs)
	require.NoError(t, err)

	require.Equal(t, config.DefaultHost, cfg.Host)
	require.EqualValues(t, config.DefaultPort, cfg.Port)
	require.Equal(t, config.DefaultKeepalive, cfg.Keepalive)
	require.Equal(t, config.DefaultHoldback, cfg.Holdback)
	require.Equal(t, "/mnt/mqtt", cfg.Mountpoint)
}

func TestLoadHonorsExplicitFlags(t *testing.T) {
	fs := parse(t,
		"--host=broker.example.com",
		"--port=8883",
		"--keepalive=30s",
		"--holdback=50ms",
		"--mountpoint=/mnt/mqtt",
	)

	cfg, err := config.Load(fs)
	require.NoError(t, err)

	require.Equal(t, "broker.example.com", cfg.Host)
	require.EqualValues(t, 8883, cfg.Port)
	require.Equal(t, 30*time.Second, cfg.Keepalive)
	require.Equal(t, 50*time.Millisecond, cfg.Holdback)
}

func TestLoadFailsWithoutMountpoint(t *testing.T) {
	fs := parse(t)

	_, err := config.Load(fs)
	require.Error(t, err)
}

func TestValidateRejectsNegativeHoldback(t *testing.T) {
	cfg := config.Config{
		Host:       "localhost",
		Port:       1883,
		Keepalive:  time.Second,
		Holdback:   -time.Second,
		Mountpoint: "/mnt",
	}
	require.Error(t, cfg.Validate())
}
