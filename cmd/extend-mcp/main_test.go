package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/extendhq/extend-mcp-server-go/internal/config"
)

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MCP_PORT", "9000")
	t.Setenv("MCP_OAUTH_ISSUER", "https://env.example.com")
	t.Setenv("MCP_STORAGE_BACKEND", "memory")
	t.Setenv("EXTEND_API_KEY", "")

	if err := serveCmd.ParseFlags([]string{"--port", "9100", "--tools", "transactions.read"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		serveCmd.Flags().Set("port", "0")
		serveCmd.Flags().Set("tools", "")
		serveCmd.Flags().Lookup("port").Changed = false
		serveCmd.Flags().Lookup("tools").Changed = false
	})

	cfg, err := loadConfig(serveCmd)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9100 || cfg.Issuer != "https://env.example.com" || cfg.Tools != "transactions.read" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigReportsInvalidSettings(t *testing.T) {
	t.Setenv("MCP_OAUTH_ISSUER", "")
	t.Setenv("EXTEND_API_KEY", "")
	t.Setenv("MCP_AUTH_MODE", "")

	_, err := loadConfig(serveCmd)
	var ce *config.Error
	if !errors.As(err, &ce) || ce.Field != "MCP_OAUTH_ISSUER" {
		t.Fatalf("err = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	defer func(f, l string) { logFormat, logLevel = f, l }(logFormat, logLevel)

	for _, tt := range []struct {
		format, level string
		ok            bool
	}{
		{"json", "info", true},
		{"text", "debug", true},
		{"TEXT", "warn", true},
		{"xml", "info", false},
		{"json", "loud", false},
	} {
		logFormat, logLevel = tt.format, tt.level
		_, err := newLogger()
		if (err == nil) != tt.ok {
			t.Errorf("newLogger(%s, %s) err = %v", tt.format, tt.level, err)
		}
	}
}

func TestCleanupCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCP_STORAGE_BACKEND", "file")
	t.Setenv("MCP_TOKEN_STORE_PATH", filepath.Join(dir, "tokens.json"))
	t.Setenv("MCP_CODE_STORE_PATH", filepath.Join(dir, "codes.json"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"cleanup", "--log-level", "error"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "removed 0 expired tokens and 0 expired codes") {
		t.Errorf("output = %q", out.String())
	}
}
