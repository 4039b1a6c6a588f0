// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"

	"github.com/eric-wood/OpenRemote/internal/config"
	"github.com/eric-wood/OpenRemote/internal/httpd"
	"github.com/eric-wood/OpenRemote/internal/sim"
	"github.com/eric-wood/OpenRemote/internal/sim/persistence"
	"github.com/eric-wood/OpenRemote/spi"
	"github.com/eric-wood/OpenRemote/w5100"
)

func main() {
	// Load Configuration
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting OpenRemote...", "config", cfg.ConfigFile, "bus", cfg.Bus.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for Signal
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		slog.Info("Shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("OpenRemote stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

// run drives the controller until ctx is done or a component fails.
func run(ctx context.Context, cfg *config.Config) error {
	netCfg, err := w5100.ParseNetConfig(cfg.Network.MAC, cfg.Network.IP, cfg.Network.Subnet, cfg.Network.Gateway)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError()

	var bus spi.Bus
	switch cfg.Bus.Type {
	case "serial":
		bridge := spi.NewBridge(cfg.Bus.Serial)
		if err := bridge.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to SPI bridge: %w", err)
		}
		defer bridge.Close()
		bus = spi.NewMaster(bridge)
	case "sim":
		storage, err := persistence.New(cfg.Sim.Storage)
		if err != nil {
			return err
		}
		ctrl, err := sim.NewController(storage)
		if err != nil {
			storage.Close()
			return err
		}
		defer func() {
			if err := ctrl.Close(); err != nil {
				slog.Error("Failed to close simulated controller", "err", err)
			}
		}()
		bus = spi.NewMaster(sim.NewSlave(ctrl))

		srv := sim.NewServer(cfg.Sim.Address, ctrl)
		p.Go(srv.Start)
	default:
		return fmt.Errorf("unknown bus type %q", cfg.Bus.Type)
	}

	dev := w5100.NewDevice(bus)
	dev.SendWait = w5100.WaitPolicy{Interval: cfg.Wait.SendInterval, Retries: cfg.Wait.SendRetries}
	dev.CommandWait = w5100.WaitPolicy{Interval: cfg.Wait.CommandInterval, Retries: cfg.Wait.CommandRetries}
	dev.RecvSettle = cfg.HTTP.RecvSettle

	if err := dev.Init(netCfg); err != nil {
		cancel()
		p.Wait()
		return err
	}

	engine := httpd.NewEngine(dev, httpd.Options{
		Port:          cfg.HTTP.Port,
		Field:         cfg.HTTP.Field,
		RequestSize:   cfg.HTTP.RequestSize,
		PayloadSize:   cfg.HTTP.PayloadSize,
		PollInterval:  cfg.HTTP.PollInterval,
		ListenBackoff: cfg.HTTP.ListenBackoff,
	})
	p.Go(engine.Run)

	return p.Wait()
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
