// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides leveled logging on top of the standard logger.
//
// Messages are prefixed with their level ([ERROR], [WARN], [INFO], [DEBUG])
// and written to stderr by default. Debug output is enabled with SetVerbose.
// Never pass API keys, request headers or bodies to these functions.
package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// Level is a logging verbosity level.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the level name used in prefixes.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

var (
	mu     sync.RWMutex
	level  = LevelWarn
	logger = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel sets the global log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// CurrentLevel returns the global log level.
func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetVerbose switches between debug output and the quiet default.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(LevelDebug)
	} else {
		SetLevel(LevelWarn)
	}
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.LstdFlags)
}

func logf(l Level, format string, args ...interface{}) {
	mu.RLock()
	enabled := level >= l
	out := logger
	mu.RUnlock()
	if enabled {
		out.Printf("["+l.String()+"] "+format, args...)
	}
}

// Error logs an error message.
func Error(format string, args ...interface{}) { logf(LevelError, format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args...) }

// Info logs an informational message.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args...) }

// Debug logs a debug message.
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args...) }
