// Command pushreps-mcp serves the PushReps MCP tools over stdio, reading data
// from a running PushReps server.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/meltforce/pushreps/internal/config"
	"github.com/meltforce/pushreps/internal/logging"
	"github.com/meltforce/pushreps/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	baseURL := flag.String("url", envOr("PUSHREPS_URL", "http://127.0.0.1:8080"), "PushReps server base URL")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	log := logging.New(os.Stderr, config.LoggingConfig{Level: *level, Format: "text"})
	slog.SetDefault(log)
	log.Info("pushreps-mcp starting", "version", Version, "url", *baseURL)

	s := mcp.New(mcp.NewHTTPClient(*baseURL), Version, log)
	if err := server.ServeStdio(s); err != nil {
		log.Error("stdio server failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
