// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/amplistat/internal/controller"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/spf13/cobra"
)

// outcomePollInterval is how often one-shot commands tick the session
const outcomePollInterval = 20 * time.Millisecond

var psuCmd = &cobra.Command{
	Use:   "psu",
	Short: "Query or configure the R4850G2 power supply",
}

var psuStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Request one full status report and print it",
	Long: `Send a status request to the power supply and wait until every expected
telemetry field has been reported, or the session timeout expires.

The expected fields and the timeout come from the session section of the
configuration file.`,
	Args: cobra.NoArgs,
	RunE: runPSUStatus,
}

var psuSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Write a power supply setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runPSUSet,
}

func init() {
	var b strings.Builder
	b.WriteString("Send a set command and wait for the module's acknowledgement.\n\nSettings:\n")
	for _, s := range r4850.Settings {
		lo, hi := s.Range()
		fmt.Fprintf(&b, "  %-16s %5.1f - %5.1f %s\n", s, lo, hi, s.Unit())
	}
	psuSetCmd.Long = b.String()

	psuCmd.AddCommand(psuStatusCmd, psuSetCmd)
	rootCmd.AddCommand(psuCmd)
}

// newSession builds a session on the bus from the session settings
func newSession(bus *busConnection) (*r4850.Session, error) {
	fields, err := cfg.ExpectedFields()
	if err != nil {
		return nil, err
	}
	return r4850.NewSession(controller.BusTransmitter{W: bus.port},
		r4850.WithTimeout(cfg.Session.Timeout),
		r4850.WithExpectedFields(fields...),
		r4850.WithLogger(logger),
	), nil
}

// waitOutcome ticks the session until get reports a result
func waitOutcome(ctx context.Context, s *r4850.Session, get func() r4850.Outcome) (r4850.Outcome, error) {
	ticker := time.NewTicker(outcomePollInterval)
	defer ticker.Stop()

	for {
		s.Tick()
		if o := get(); o != r4850.OutcomeWait {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return r4850.OutcomeWait, ctx.Err()
		case <-ticker.C:
		}
	}
}

// startSession opens the bus and starts receiving into a new session
func startSession(cmd *cobra.Command) (context.Context, func(), *busConnection, *r4850.Session, error) {
	bus, err := openBus(cfg.Bus)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	session, err := newSession(bus)
	if err != nil {
		bus.Close()
		return nil, nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	go func() {
		if err := controller.Receive(ctx, bus.port, session, logger); err != nil {
			logger.Debugf("bus receive stopped: %v", err)
		}
	}()

	stop := func() {
		cancel()
		bus.Close()
	}
	return ctx, stop, bus, session, nil
}

func runPSUStatus(cmd *cobra.Command, args []string) error {
	ctx, stop, bus, session, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer stop()

	logger.Debugf("connected: %s", bus.info)
	if err := session.RequestStatus(); err != nil {
		return err
	}

	outcome, err := waitOutcome(ctx, session, session.StatusOutcome)
	if err != nil {
		return err
	}
	if outcome != r4850.OutcomeOK {
		return fmt.Errorf("no complete status from the power supply within %v", session.Timeout())
	}

	fmt.Printf("R4850G2 status (%s)\n", bus.info)
	fmt.Print(r4850.FormatStatus(session.Status()))
	return nil
}

func runPSUSet(cmd *cobra.Command, args []string) error {
	setting, err := r4850.ParseSetting(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	ctx, stop, _, session, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer stop()

	if err := session.SetParameter(setting, value); err != nil {
		return err
	}

	outcome, err := waitOutcome(ctx, session, session.SetOutcome)
	if err != nil {
		return err
	}
	if outcome != r4850.OutcomeOK {
		return fmt.Errorf("%s: rejected by the module or no acknowledgement within %v", setting, session.Timeout())
	}

	fmt.Printf("%s set to %.2f %s\n", setting, value, setting.Unit())
	return nil
}
