// Package applog configures the daemon's default slog logger, grounded
// directly on the teacher's internal/utils/configurelogger.go
// (ConfigureDefaultLogger), unchanged in shape.
package applog

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets slog's default logger for logLevel ("none", "error",
// "warn", "info", "debug") and an optional logFile. An empty logFile
// logs text to stdout; a non-empty one logs JSON to that file. Returns
// the opened file (nil if none), which the caller should close on
// shutdown.
func Configure(logLevel string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("applog: unexpected log level " + logLevel)
	}

	var fp *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		var err error
		fp, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		handler = slog.NewJSONHandler(fp, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return fp, nil
}
