// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/sirupsen/logrus"
)

func TestSetup_Level(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"", logrus.InfoLevel},
		{"loud", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := Setup(config.LogConfig{Level: tt.level})
			if log.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.want)
			}
		})
	}
}

func TestSetup_Formatter(t *testing.T) {
	if _, ok := Setup(config.LogConfig{Format: "json"}).Formatter.(*logrus.JSONFormatter); !ok {
		t.Error("json format did not select JSONFormatter")
	}
	if _, ok := Setup(config.LogConfig{Format: "text"}).Formatter.(*logrus.TextFormatter); !ok {
		t.Error("text format did not select TextFormatter")
	}
}

func TestSetup_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amplistat.log")
	log := Setup(config.LogConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
	log.WithField("point", "antenna").Info("swr trip")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"point":"antenna"`) {
		t.Errorf("log file = %q, want point field", data)
	}
}
