// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Amplistat - RF power amplifier controller
//
// Measures forward and reflected power, derives SWR and manages the
// amplifier's R4850G2 power supply over CAN.

package main

import (
	"os"

	"github.com/Thermoquad/amplistat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
