// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adc

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/amplistat/pkg/pwrswr"
)

// Replay plays back a captured sample log. Each CSV record holds the six
// detector voltages in millivolts, in pwrswr.Channel order. Lines starting
// with # and a leading header row are skipped.
type Replay struct {
	r      *csv.Reader
	closer io.Closer
	line   int
}

func NewReplay(r io.Reader) *Replay {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = int(pwrswr.NumChannels)
	cr.TrimLeadingSpace = true
	return &Replay{r: cr}
}

// OpenReplay opens a sample log file; "-" reads stdin
func OpenReplay(path string) (*Replay, error) {
	if path == "-" {
		return NewReplay(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample log: %w", err)
	}
	rp := NewReplay(f)
	rp.closer = f
	return rp, nil
}

// Read returns the next record, or io.EOF at the end of the log
func (rp *Replay) Read(ctx context.Context) (pwrswr.Samples, error) {
	var s pwrswr.Samples
	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		record, err := rp.r.Read()
		if errors.Is(err, io.EOF) {
			return s, io.EOF
		}
		if err != nil {
			return s, fmt.Errorf("sample log: %w", err)
		}
		rp.line++

		header := false
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				if rp.line == 1 {
					header = true
					break
				}
				line, _ := rp.r.FieldPos(i)
				return s, fmt.Errorf("sample log line %d: invalid value %q", line, field)
			}
			s[i] = v
		}
		if !header {
			return s, nil
		}
	}
}

func (rp *Replay) Close() error {
	if rp.closer == nil {
		return nil
	}
	return rp.closer.Close()
}
