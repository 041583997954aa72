// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/amplistat/internal/controller"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI showing power, SWR and power supply state",
	Long: `Run the controller with a live terminal UI.

Shows forward, peak and reflected power with instantaneous and smoothed SWR
for every measurement point, the latest R4850G2 telemetry, exchange results
and bus statistics. Log output is shown in the event panel.

Keys:
  s      enter a set command, e.g. "online_voltage 53.5"
  r      reset peak hold and SWR smoothing
  q      quit

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&replayPath, "replay", "", "Read detector samples from a CSV log instead of the ADC")
}

// tuiLogHook forwards log entries to the event panel
type tuiLogHook struct {
	p *tea.Program
}

func (h *tuiLogHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

// Fire must not block: entries logged from inside Update would otherwise
// wait on the event loop that is running them
func (h *tuiLogHook) Fire(e *logrus.Entry) error {
	msg := logEntryMsg{
		timestamp: e.Time,
		message:   e.Message,
		isError:   e.Level <= logrus.WarnLevel,
	}
	go h.p.Send(msg)
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
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

	ctrl, cleanup, err := buildController(ctx, bus, source, false)
	if err != nil {
		return err
	}
	defer cleanup()

	m := initialMonitorModel(ctrl, bus.info)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// The terminal belongs to the TUI now
	logger.SetOutput(io.Discard)
	logger.AddHook(&tuiLogHook{p: p})

	go func() {
		if err := controller.Receive(ctx, bus.port, ctrl.Session(), logger); err != nil {
			p.Send(connectionLostMsg{err: err})
		}
	}()
	go controlLoop(ctx, ctrl, cfg.Sampling.Interval, p)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// controlLoop runs controller cycles and hands each snapshot to the TUI
func controlLoop(ctx context.Context, ctrl *controller.Controller, interval time.Duration, p *tea.Program) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ctrl.Poll()
		snap, err := ctrl.Cycle(ctx)
		switch {
		case errors.Is(err, io.EOF):
			p.Send(logEntryMsg{timestamp: time.Now(), message: "sample log finished"})
			return
		case err != nil:
			p.Send(logEntryMsg{timestamp: time.Now(), message: fmt.Sprintf("sample read failed: %v", err), isError: true})
		default:
			p.Send(snapshotMsg{snap: snap, stats: ctrl.Session().Statistics(), lastRx: ctrl.Session().LastRx()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
