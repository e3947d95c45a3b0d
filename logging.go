package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// setupLogging builds the root logger: colored console output on out and,
// when enabled, raw JSON lines shipped to Graylog over GELF. The returned
// func releases the GELF connection.
func setupLogging(cfg Config, out io.Writer) (zerolog.Logger, func(), error) {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		},
	}

	closer := func() {}
	if cfg.Graylog.Enabled {
		gw, err := gelf.NewWriter(cfg.Graylog.Address)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("connecting to graylog at %s: %w", cfg.Graylog.Address, err)
		}
		writers = append(writers, gw)
		closer = func() { gw.Close() }
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLogLevel(cfg.LogLevel)).
		With().Timestamp().Str("service", "impulse").Logger()

	logger.Info().Str("loglevel", logger.GetLevel().String()).Msg("Logging set up")
	return logger, closer, nil
}

// componentLogger tags a child logger with the component it belongs to
func componentLogger(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func stdoutLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
