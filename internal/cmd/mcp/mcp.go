// Package mcp parses MCP command flags and serves the engine tools on stdio.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/openclaw/screenless/internal/adapter/memory"
	"github.com/openclaw/screenless/internal/engine"
	mcpserver "github.com/openclaw/screenless/internal/mcp"
	"github.com/openclaw/screenless/internal/person"
	platformcmd "github.com/openclaw/screenless/internal/platform/cmd"
	"github.com/openclaw/screenless/internal/safety"
	"github.com/openclaw/screenless/internal/storage/sqlite"
)

// Config holds MCP command configuration.
type Config struct {
	DBPath        string `env:"SCREENLESS_DB_PATH"         envDefault:"screenless.db"`
	EncryptionKey string `env:"SCREENLESS_ENCRYPTION_KEY"`
	AllowNonUSCA  bool   `env:"SCREENLESS_ALLOW_NON_US_CA" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite store path")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the MCP tools on stdio until the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context) error {
		if cfg.EncryptionKey == "" {
			return fmt.Errorf("SCREENLESS_ENCRYPTION_KEY is required")
		}

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		crm := memory.NewCRM(time.Now)
		outbox := memory.NewOutbox(time.Now)
		eng := engine.New(engine.Deps{
			Config: engine.Config{
				Safety:           safety.Config{AllowNonUSCA: cfg.AllowNonUSCA},
				EncryptionSecret: cfg.EncryptionKey,
			},
			Store:     store,
			Resolver:  person.NewResolver(crm, store, time.Now),
			CRM:       crm,
			Listings:  memory.NewListings(),
			SMS:       outbox,
			Email:     outbox,
			Voice:     outbox,
			Outbound:  outbox,
			Voicemail: memory.NewVoicemail(),
		})

		server := mcpserver.NewServer(eng, nil, nil)
		return mcpserver.ServeStdio(ctx, server)
	})
}
