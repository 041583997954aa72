// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Thermoquad/amplistat/internal/adc"
	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/spf13/cobra"
)

var (
	swrEvery           int
	swrTrip            float64
	swrCalibrationPath string
)

var swrCmd = &cobra.Command{
	Use:   "swr <sample-log>",
	Short: "Replay a detector sample log through the power/SWR engine",
	Long: `Feed a captured sample log through the power and SWR computation and print
the readings of every measurement point.

The log is CSV with six detector voltages in millivolts per line, in the
order filter reverse, filter forward, antenna reverse, antenna forward,
input reverse, input forward. A header line and # comments are allowed.
Use - to read from stdin.

The calibration comes from the configuration file unless --calibration
names a separate calibration table.`,
	Args: cobra.ExactArgs(1),
	RunE: runSWR,
}

func init() {
	rootCmd.AddCommand(swrCmd)
	swrCmd.Flags().IntVar(&swrEvery, "every", 1, "Print every Nth sample set")
	swrCmd.Flags().Float64Var(&swrTrip, "trip", 0, "Smoothed SWR trip threshold (default from config)")
	swrCmd.Flags().StringVar(&swrCalibrationPath, "calibration", "", "YAML calibration table")
}

func runSWR(cmd *cobra.Command, args []string) error {
	table := cfg.Calibration
	if swrCalibrationPath != "" {
		loaded, err := calibration.Load(swrCalibrationPath)
		if err != nil {
			return err
		}
		table = loaded
	}
	trip := cfg.Sampling.SWRTrip
	if cmd.Flags().Changed("trip") {
		trip = swrTrip
	}
	if swrEvery < 1 {
		swrEvery = 1
	}

	engine, err := pwrswr.New(table)
	if err != nil {
		return err
	}

	replay, err := adc.OpenReplay(args[0])
	if err != nil {
		return err
	}
	defer replay.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	n := 0
	trips := make(map[calibration.Point]int)
	maxSWR := make(map[calibration.Point]float64)
	for {
		samples, err := replay.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		n++

		engine.Compute(samples)
		for _, p := range calibration.Points {
			r := engine.Reading(p)
			if r.SWR > maxSWR[p] {
				maxSWR[p] = r.SWR
			}
			if engine.Tripped(p, trip) {
				trips[p]++
			}
		}

		if n%swrEvery == 0 {
			printReadings(n, engine, trip)
		}
	}

	fmt.Printf("\n=== %d sample sets ===\n", n)
	for _, p := range calibration.Points {
		r := engine.Reading(p)
		fmt.Printf("%-8s peak %7.1f W (%6.2f dBm)  max SWR %5.2f  tripped %d\n",
			p, r.FwdPeakWatts, r.FwdPeakDBm, maxSWR[p], trips[p])
	}
	return nil
}

func printReadings(n int, engine *pwrswr.Engine, trip float64) {
	fmt.Printf("#%d\n", n)
	for _, p := range calibration.Points {
		r := engine.Reading(p)
		mark := ""
		if engine.Tripped(p, trip) {
			mark = "  \033[1;31mTRIP\033[0m"
		}
		fmt.Printf("  %-8s fwd %7.1f W (%6.2f dBm)  rev %7.1f W (%6.2f dBm)  SWR %5.2f  avg %5.2f%s\n",
			p, r.FwdWatts, r.FwdDBm, r.RevWatts, r.RevDBm, r.SWR, r.SmoothedSWR(), mark)
	}
}
