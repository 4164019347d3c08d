// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/overwave/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New returns a logger for cfg. An unknown level falls back to info, and an
// unopenable log file falls back to stderr with a warning.
func New(cfg config.LogConfig) *logrus.Logger {
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
			break
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("failed to open log file: %v, using stderr", err)
		}
	default:
		log.SetOutput(os.Stderr)
	}

	return log
}

// Discard returns a logger that drops everything, for tests and quiet
// library defaults.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
