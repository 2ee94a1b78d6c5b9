// Command mqttmountd mounts an MQTT broker's topic namespace as a live
// directory tree (spec.md §1). It parses configuration, obtains an
// already-mounted kernel device from the platform helper, and runs the
// mount until asked to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mqttmount/mqttmount"
	"github.com/mqttmount/mqttmount/config"
	"github.com/mqttmount/mqttmount/platformdevice"
)

func main() {
	fs := pflag.NewFlagSet("mqttmountd", pflag.ExitOnError)
	config.RegisterFlags(fs)
	debug := fs.Bool("debug", false, "trace every request/response header to stderr")
	fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(fs, *debug, logger); err != nil {
		logger.Error("mqttmountd exiting", "error", err)
		os.Exit(1)
	}
}

func run(fs *pflag.FlagSet, debug bool, logger *slog.Logger) error {
	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	dev, err := platformdevice.Open()
	if err != nil {
		return fmt.Errorf("open mount device: %w", err)
	}
	defer dev.Close()

	mountCtx := &mqttmount.Context{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Keepalive: cfg.Keepalive,
		Holdback:  cfg.Holdback,
		Device:    dev,
		Logger:    logger,
		Debug:     debug,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mqttmountd starting",
		"host", cfg.Host, "port", cfg.Port, "mountpoint", cfg.Mountpoint, "debug", debug)

	return mountCtx.Run(ctx)
}
