// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/Thermoquad/amplistat/pkg/slcan"
	"github.com/spf13/cobra"
)

var (
	rawShowAll       bool
	rawStatsInterval int
	rawRequestStatus bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display CAN bus frames in human-readable format",
	Long: `Continuously decode and display R4850G2 frames as they arrive.

Each frame is printed with its timestamp, identifier name and decoded
telemetry value or acknowledgement. Frames from other devices on the bus
are only shown with --show-all. Implausible telemetry values are flagged.

Use --poll to send a status request every second so the module reports
without a controller on the bus.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawShowAll, "show-all", false, "Show frames that are not part of the rectifier protocol")
	rawLogCmd.Flags().IntVar(&rawStatsInterval, "stats-interval", 0, "Print statistics every N seconds (0 disables)")
	rawLogCmd.Flags().BoolVar(&rawRequestStatus, "poll", false, "Send a status request every second")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	bus, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Amplistat - Raw CAN Log\n")
	fmt.Printf("Connection: %s\n", bus.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := r4850.NewStatistics(time.Now())

	// Print the summary on Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		stats.CalculateRates(time.Now())
		fmt.Printf("\n%s", stats)
		bus.Close()
		os.Exit(0)
	}()

	if rawRequestStatus {
		go func() {
			for range time.Tick(time.Second) {
				if err := bus.port.WriteFrame(slcan.Frame{ID: r4850.IDRequestStatus, Extended: true, Data: r4850.EncodeRequest().Data}); err != nil {
					logger.Warnf("status request failed: %v", err)
				}
			}
		}()
	}

	lastStats := time.Now()
	for {
		frame, err := bus.port.ReadFrame()
		if err != nil {
			var decodeErr *slcan.DecodeError
			if errors.As(err, &decodeErr) {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			return err
		}

		m := r4850.Message{ID: frame.ID, Data: frame.Data}
		d := r4850.Decode(m)
		var anomalies []r4850.ValidationError
		if d.Kind == r4850.KindTelemetry {
			anomalies = r4850.ValidateTelemetry(d)
		}
		stats.Update(d, anomalies, frame.Timestamp)

		if d.Kind != r4850.KindUnrecognized || d.ID == r4850.IDStatusResponse || rawShowAll {
			fmt.Print(r4850.FormatMessage(m, frame.Timestamp))
			for _, a := range anomalies {
				fmt.Printf("  \033[1;33mANOMALY:\033[0m %s\n", a.Message)
			}
		}

		if rawStatsInterval > 0 && time.Since(lastStats) >= time.Duration(rawStatsInterval)*time.Second {
			stats.CalculateRates(time.Now())
			fmt.Printf("\n%s\n", stats)
			lastStats = time.Now()
		}
	}
}
