/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog with an additional JSON sink next to the
// console output. Production environments log JSON to stdout directly.
func SetupWithWriter(environment string, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var primary io.Writer = os.Stdout
	if environment == "development" {
		level = zerolog.DebugLevel
		primary = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	writer := primary
	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(primary, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", "jukebox").Logger().Level(level)
	log.Logger = logger
	return logger
}
