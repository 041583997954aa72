// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/Thermoquad/amplistat/pkg/slcan"
	"github.com/spf13/cobra"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the bus by waiting for a frame from the power supply",
	Long: `Open the CAN channel, send one status request and wait for any frame of
the R4850G2 protocol until timeout. Malformed SLCAN lines and frames from
other devices are ignored.

Exit codes:
  0 - Power supply frame received before timeout
  1 - Timeout reached without hearing the power supply
  2 - Connection error

Useful for checking adapter wiring, bitrate and termination.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 5, "Timeout in seconds to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	bus, err := openBus(cfg.Bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("Amplistat - Bus Probe\n")
	fmt.Printf("Connection: %s\n", bus.info)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for the power supply...\n\n")

	frameChan := make(chan *slcan.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		skipped := 0
		for {
			frame, err := bus.port.ReadFrame()
			if err != nil {
				var decodeErr *slcan.DecodeError
				if errors.As(err, &decodeErr) {
					skipped++
					continue
				}
				errChan <- err
				return
			}
			d := r4850.Decode(r4850.Message{ID: frame.ID, Data: frame.Data})
			if !frame.Extended || d.Kind == r4850.KindUnrecognized {
				skipped++
				continue
			}
			if skipped > 0 {
				fmt.Printf("(skipped %d other lines before the first rectifier frame)\n", skipped)
			}
			frameChan <- frame
			return
		}
	}()

	req := r4850.EncodeRequest()
	if err := bus.port.WriteFrame(slcan.Frame{ID: req.ID, Extended: true, Data: req.Data}); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Power supply answered\n")
		fmt.Print(r4850.FormatMessage(r4850.Message{ID: frame.ID, Data: frame.Data}, frame.Timestamp))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No power supply frame within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
