// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package adc provides the six detector voltages sampled on every
// controller cycle.
package adc

import (
	"context"

	"github.com/Thermoquad/amplistat/pkg/pwrswr"
)

// Source yields one set of detector samples in millivolts per call
type Source interface {
	Read(ctx context.Context) (pwrswr.Samples, error)
	Close() error
}
