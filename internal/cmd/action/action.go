// Package action parses CLI flags and runs one action request through the
// engine, printing the response envelope.
package action

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	actiontypes "github.com/openclaw/screenless/internal/action"
	"github.com/openclaw/screenless/internal/adapter/memory"
	"github.com/openclaw/screenless/internal/engine"
	"github.com/openclaw/screenless/internal/inbound"
	"github.com/openclaw/screenless/internal/person"
	platformcmd "github.com/openclaw/screenless/internal/platform/cmd"
	"github.com/openclaw/screenless/internal/platform/config"
	"github.com/openclaw/screenless/internal/ratelimit"
	"github.com/openclaw/screenless/internal/safety"
	"github.com/openclaw/screenless/internal/storage/sqlite"
)

// Config holds the action command configuration.
type Config struct {
	DBPath              string `env:"SCREENLESS_DB_PATH"                envDefault:"screenless.db"`
	EncryptionKey       string `env:"SCREENLESS_ENCRYPTION_KEY"`
	WebhookSharedSecret string `env:"SCREENLESS_WEBHOOK_SHARED_SECRET"`
	AllowNonUSCA        bool   `env:"SCREENLESS_ALLOW_NON_US_CA"        envDefault:"false"`
	AllowedEmails       string `env:"SCREENLESS_ALLOWED_INBOUND_EMAILS"`
	AllowedPhones       string `env:"SCREENLESS_ALLOWED_INBOUND_PHONES"`
	RateLimit           int    `env:"SCREENLESS_RATE_LIMIT"             envDefault:"30"`
	RateWindowSeconds   int    `env:"SCREENLESS_RATE_WINDOW_SECONDS"    envDefault:"60"`

	// Flag-only knobs.
	RequestPath string
	Inbound     bool
	Execute     bool
	Role        string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.RequestPath, "request", "-", "request JSON path, - for stdin")
	fs.BoolVar(&cfg.Inbound, "inbound", false, "treat the input as raw inbound text instead of request JSON")
	fs.BoolVar(&cfg.Execute, "execute", false, "confirm side effects for inbound commands")
	fs.StringVar(&cfg.Role, "role", "", "caller role for inbound commands")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the action command: read input, run the engine, print the
// envelope to stdout.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceAction, func(ctx context.Context) error {
		return run(ctx, cfg, os.Stdin, os.Stdout)
	})
}

func run(ctx context.Context, cfg Config, stdin io.Reader, stdout io.Writer) error {
	if cfg.EncryptionKey == "" {
		return fmt.Errorf("SCREENLESS_ENCRYPTION_KEY is required")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	raw, err := readInput(cfg.RequestPath, stdin)
	if err != nil {
		return err
	}

	if cfg.Inbound {
		raw, err = screenInbound(ctx, cfg, store, raw)
		if err != nil {
			return err
		}
	}

	eng := newEngine(cfg, store)
	envelope := eng.Run(ctx, raw)

	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}

// newEngine wires the engine over the SQLite store and the in-memory channel
// collaborators. Concrete provider adapters plug in here when deployed.
func newEngine(cfg Config, store *sqlite.Store) *engine.Engine {
	crm := memory.NewCRM(time.Now)
	outbox := memory.NewOutbox(time.Now)
	return engine.New(engine.Deps{
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
}

func screenInbound(ctx context.Context, cfg Config, store *sqlite.Store, raw []byte) (json.RawMessage, error) {
	gateway := inbound.NewGateway(
		inbound.AuthConfig{
			AllowedEmails: config.CSV(cfg.AllowedEmails),
			AllowedPhones: config.CSV(cfg.AllowedPhones),
			SharedSecret:  cfg.WebhookSharedSecret,
		},
		ratelimit.NewLimiter(cfg.RateLimit, time.Duration(cfg.RateWindowSeconds)*time.Second),
		store,
		time.Now,
		uuid.NewString,
	)
	return gateway.Screen(ctx, inbound.Delivery{
		Message: string(raw),
		Role:    actiontypes.Role(cfg.Role),
		Execute: cfg.Execute,
	})
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	return raw, nil
}
