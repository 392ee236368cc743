/**
 * @description
 * Process logger for the Value Voyage backend.
 * Info goes to stdout, errors to stderr, so log collectors do not label
 * routine ingestion output as failures.
 *
 * @dependencies
 * - github.com/rs/zerolog
 */

package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

var (
	// InfoLogger writes to stdout
	InfoLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	// ErrorLogger writes to stderr (warnings and errors)
	ErrorLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup switches to human-readable console output in development and test,
// JSON everywhere else.
func Setup(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	switch env {
	case "development", "test":
		InfoLogger = New(zerolog.ConsoleWriter{Out: os.Stdout})
		ErrorLogger = New(zerolog.ConsoleWriter{Out: os.Stderr})
	default:
		InfoLogger = New(os.Stdout)
		ErrorLogger = New(os.Stderr)
	}
}

// L returns the stdout logger for structured events.
func L() *zerolog.Logger {
	return &InfoLogger
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	InfoLogger.Info().Msg(fmt.Sprintf(format, v...))
}

// Warn logs a warning to stderr
func Warn(format string, v ...interface{}) {
	ErrorLogger.Warn().Msg(fmt.Sprintf(format, v...))
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	ErrorLogger.Error().Msg(fmt.Sprintf(format, v...))
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	ErrorLogger.Fatal().Msg(fmt.Sprintf(format, v...))
}

// New creates a new logger that writes to the specified writer
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
