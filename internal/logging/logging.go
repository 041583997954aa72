// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the logrus logger shared by the controller.
package logging

import (
	"io"
	"os"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Setup creates a logger from the log section. Unknown levels fall back to
// info; an unwritable log file falls back to stderr with a warning.
func Setup(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	switch cfg.Output {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "file":
		if cfg.FilePath == "" {
			log.Warn("log output is file but no file_path given, using stderr")
			break
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warnf("failed to open log file: %v, using stderr", err)
			break
		}
		log.SetOutput(file)
	default:
		log.SetOutput(os.Stderr)
	}

	return log
}

// Discard returns a logger that drops everything, for tests and one-shot
// commands
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
