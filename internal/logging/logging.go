// Package logging
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// zerolog factory shared by the transport, the control layer and the CLI.

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLevel  = "RIPC_LOG_LEVEL"
	EnvFormat = "RIPC_LOG_FORMAT"
)

// New returns a logger tagged with component. Level and output format come
// from RIPC_LOG_LEVEL and RIPC_LOG_FORMAT.
func New(component string) zerolog.Logger {
	return NewWithWriter(component, os.Stderr)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(component string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(os.Getenv(EnvFormat), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(os.Getenv(EnvLevel))).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
