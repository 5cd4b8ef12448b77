/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures zerolog for the broadcaster. Development
// gets a human-readable console at debug level; production emits raw
// JSON lines at info level so log shippers can parse them.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the process logger for the given environment and
// installs it as the zerolog global.
func Setup(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer io.Writer = os.Stdout
	level := zerolog.InfoLevel
	if environment == "development" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout}
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Str("service", "funkstrom").
		Logger().
		Level(level)

	log.Logger = logger
	return logger
}
