// Package logging builds the process slog.Logger from config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/meltforce/pushreps/internal/config"
)

// Setup returns a logger writing to stdout, and to a rotating file when
// cfg.File is set. The returned closer releases the file.
func Setup(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		name := cfg.File
		if !strings.HasSuffix(name, ".log") {
			name += ".log"
		}
		lj := &lumberjack.Logger{
			Filename:   name,
			MaxSize:    50, // megabytes
			MaxBackups: 10,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}
	return New(out, cfg), closer
}

// New returns a logger writing to w with the configured level and format.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level maps a level name to a slog level, defaulting to info.
func Level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
