// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"slices"
)

// LogLevel is a level name accepted by logLevel and ITSD_LOG_LEVEL.
type LogLevel string

// LogLevels lists the accepted level names, most verbose first.
var LogLevels = []LogLevel{"debug", "info", "warn", "error"}

// ErrInvalidLogLevel is returned by ParseLogLevel for unknown names.
var ErrInvalidLogLevel = errors.New("invalid log level (must be: debug, info, warn, error)")

// ParseLogLevel returns s as a LogLevel if it is one of LogLevels.
func ParseLogLevel(s string) (LogLevel, error) {
	if !slices.Contains(LogLevels, LogLevel(s)) {
		return "", ErrInvalidLogLevel
	}
	return LogLevel(s), nil
}
