// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging sets up the process logger.
//
// The terminal belongs to the chat UI, so logs go to a rotated file
// (default ~/.luna/luna.log). Components receive a logrus.FieldLogger and
// log with WithFields, using an UPPER_SNAKE "event" field:
//
//	log.WithFields(logrus.Fields{
//	    "event":      "TURN_COMPLETE",
//	    "session_id": id,
//	}).Info("turn complete")
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeranaias/luna-tui/internal/config"
)

// TimestampFormat is used for every log line.
const TimestampFormat = "2006-01-02 15:04:05"

// Options configures Setup.
type Options struct {
	// Level is a logrus level name (default: info)
	Level string

	// File is the log file path (default: <config dir>/luna.log)
	File string

	// MaxSizeMB, MaxBackups and MaxAgeDays control rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Stderr also writes to standard error, for non-interactive commands.
	Stderr bool
}

// FromConfig builds Options from the log section of cfg.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
}

// DefaultFile returns the default log file path.
func DefaultFile() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "luna.log"), nil
}

// Setup creates a logger writing to the rotated file. The returned closer
// flushes and closes the file.
func Setup(opts Options) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	path := opts.File
	if path == "" {
		p, err := DefaultFile()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: TimestampFormat,
		FullTimestamp:   true,
		DisableColors:   true,
	})
	if opts.Stderr {
		logger.SetOutput(io.MultiWriter(file, os.Stderr))
	} else {
		logger.SetOutput(file)
	}
	return logger, file, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
