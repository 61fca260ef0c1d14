// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sekolahdesk/sekolahdesk/internal/logring"
)

// LogManager handles log configuration with safe runtime reconfiguration.
// Every line also lands in an in-memory ring so the app can show recent
// logs without touching the log file.
type LogManager struct {
	version     string
	ring        *logring.Ring
	mu          sync.Mutex
	current     atomic.Pointer[io.Writer]
	closer      io.Closer
	initialized atomic.Bool
}

// NewLogManager creates a new LogManager with the given version string.
func NewLogManager(version string) *LogManager {
	lm := &LogManager{version: version, ring: logring.New(0)}
	base := lm.baseWriter()
	lm.current.Store(&base)
	return lm
}

// Initialize sets up the global logger to write through the manager.
// Should only be called once during application startup. The logger level
// stays at trace so the global level can change at runtime without
// mutating log.Logger.
func (lm *LogManager) Initialize() {
	if lm.initialized.Swap(true) {
		return
	}
	log.Logger = log.Logger.Output(lm).Level(zerolog.TraceLevel)
}

// Write forwards to the current writer stack.
func (lm *LogManager) Write(p []byte) (int, error) {
	return (*lm.current.Load()).Write(p)
}

// Apply updates the log configuration with the given settings. Safe to
// call concurrently. Returns an error if file logging is requested but the
// log directory cannot be created.
func (lm *LogManager) Apply(level, logPath string, maxSize, maxBackups int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	setLogLevel(level)

	writer, closer, err := buildLogWriter(lm.baseWriter(), logPath, maxSize, maxBackups)
	if err != nil {
		return err
	}

	lm.current.Store(&writer)

	// Close the previous rotator after the swap.
	if lm.closer != nil {
		if closeErr := lm.closer.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("failed to close old log rotator")
		}
	}
	lm.closer = closer

	return nil
}

func buildLogWriter(base io.Writer, logPath string, maxSize, maxBackups int) (io.Writer, io.Closer, error) {
	if logPath == "" {
		return base, nil, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
	return io.MultiWriter(base, rotator), rotator, nil
}

// RecentLogs returns the newest n rendered log lines, oldest first.
func (lm *LogManager) RecentLogs(n int) []string {
	return lm.ring.History(n)
}

func (lm *LogManager) baseWriter() io.Writer {
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return io.MultiWriter(console, lm.ring)
}

func setLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
