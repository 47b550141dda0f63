package mcp

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "screenless.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.AllowNonUSCA {
		t.Fatal("expected region override off by default")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("SCREENLESS_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db", "/tmp/mcp.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/tmp/mcp.db" {
		t.Fatalf("expected flag db path, got %q", cfg.DBPath)
	}
	if cfg.EncryptionKey != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("expected env encryption key, got %q", cfg.EncryptionKey)
	}
}
