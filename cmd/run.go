// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/amplistat/internal/adc"
	"github.com/Thermoquad/amplistat/internal/controller"
	"github.com/Thermoquad/amplistat/internal/metrics"
	"github.com/Thermoquad/amplistat/internal/publish"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/spf13/cobra"
)

var replayPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the amplifier controller headless",
	Long: `Sample the power bridges, compute power and SWR, and poll the power supply
until interrupted.

Detector voltages come from the MCP3208 ADC on the SPI port named in the adc
section of the configuration file, or from a sample log given with --replay.

When enabled in the configuration, readings are exported on a Prometheus
/metrics endpoint and every cycle is published as a CBOR snapshot to MQTT
and/or Redis.`,
	Args: cobra.NoArgs,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&replayPath, "replay", "", "Read detector samples from a CSV log instead of the ADC")
}

// openSource returns the replay log when given, otherwise the SPI ADC
func openSource(replay string) (adc.Source, error) {
	if replay != "" {
		rp, err := adc.OpenReplay(replay)
		if err != nil {
			return nil, err
		}
		return rp, nil
	}
	conv, err := adc.OpenMCP3208(cfg.ADC.SPIPort, cfg.ADC.SpeedHz, cfg.ADC.VrefMv)
	if err != nil {
		return nil, err
	}
	logger.WithField("spi_port", cfg.ADC.SPIPort).Info("MCP3208 opened")
	return conv, nil
}

// buildController wires the controller from the loaded configuration
func buildController(ctx context.Context, bus *busConnection, source adc.Source, withExports bool) (*controller.Controller, func(), error) {
	session, err := newSession(bus)
	if err != nil {
		return nil, nil, err
	}
	engine, err := pwrswr.New(cfg.Calibration)
	if err != nil {
		return nil, nil, err
	}

	opts := controller.Options{
		Engine:         engine,
		Session:        session,
		Source:         source,
		Log:            logger,
		SWRTrip:        cfg.Sampling.SWRTrip,
		PollInterval:   cfg.Session.PollInterval,
		SampleInterval: cfg.Sampling.Interval,
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if withExports && cfg.Metrics.Enabled {
		m := metrics.New(logger)
		m.RegisterSession(session)
		srv := m.StartServer(cfg.Metrics.Port)
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
		opts.Metrics = m
	}

	if withExports {
		pub, err := publish.FromConfig(ctx, cfg.Publish, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if len(pub) > 0 {
			opts.Publisher = pub
			cleanups = append(cleanups, func() { pub.Close() })
		}
	}

	return controller.New(opts), cleanup, nil
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := openSource(replayPath)
	if err != nil {
		return err
	}
	defer source.Close()

	bus, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctrl, cleanup, err := buildController(ctx, bus, source, true)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.WithField("bus", bus.info).Info("controller started")

	go func() {
		if err := controller.Receive(ctx, bus.port, ctrl.Session(), logger); err != nil {
			logger.Errorf("bus receive stopped: %v", err)
			cancel()
		}
	}()

	err = ctrl.Run(ctx)
	logger.Info("controller stopped")
	return err
}
