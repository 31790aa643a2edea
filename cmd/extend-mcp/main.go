// Command extend-mcp serves the Extend tools over MCP with per-user OAuth.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/extendhq/extend-mcp-server-go/internal/logctx"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	logFormat string
	logLevel  string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "extend-mcp",
	Short: "MCP server for the Extend API",
	Long: `extend-mcp exposes read-only Extend API tools to MCP clients.

In oauth mode every user signs in with their own Extend API key and secret
and receives a bearer token; in api-key mode a single Extend credential from
the environment is used for all requests.

Settings are read from the environment (and a .env file when present).
Flags override the environment.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load settings from this file instead of ./.env")
	rootCmd.AddCommand(serveCmd, stdioCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q", logFormat)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}
