package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/authserver"
	"github.com/extendhq/extend-mcp-server-go/credentials"
	"github.com/extendhq/extend-mcp-server-go/extendapi"
	"github.com/extendhq/extend-mcp-server-go/internal/config"
	"github.com/extendhq/extend-mcp-server-go/internal/logctx"
	"github.com/extendhq/extend-mcp-server-go/mcp"
	"github.com/extendhq/extend-mcp-server-go/mcphttp"
	"github.com/extendhq/extend-mcp-server-go/oauth"
	"github.com/extendhq/extend-mcp-server-go/tools"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	mcpPath         = "/mcp"
	shutdownTimeout = 10 * time.Second
)

const instructions = "Tools in this server read virtual cards, credit cards, transactions and expense categories from the Extend API using the signed-in user's credentials."

var serveFlags struct {
	host            string
	port            int
	mode            string
	issuer          string
	backend         string
	tools           string
	rateLimit       int
	cleanupInterval time.Duration
	trustForwarded  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Runs the MCP endpoint at /mcp together with the OAuth authorization
server (discovery documents, /authorize, /callback, /token, /revoke and
/register).

The file storage backend keeps codes and tokens in local JSON files and must
not be shared between server instances. Use --storage redis when running more
than one instance.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "", "listen host (MCP_HOST)")
	f.IntVar(&serveFlags.port, "port", 0, "listen port (MCP_PORT)")
	f.StringVar(&serveFlags.mode, "auth-mode", "", "oauth or api-key (MCP_AUTH_MODE)")
	f.StringVar(&serveFlags.issuer, "issuer", "", "public base URL of this server (MCP_OAUTH_ISSUER)")
	f.StringVar(&serveFlags.backend, "storage", "", "storage backend: file (single instance only), redis or memory (MCP_STORAGE_BACKEND)")
	f.StringVar(&serveFlags.tools, "tools", "", `comma-separated permissions such as "virtual_cards.read", or "all" (MCP_TOOLS)`)
	f.IntVar(&serveFlags.rateLimit, "rate-limit", 0, "requests per minute per client on OAuth endpoints, 0 disables (MCP_RATE_LIMIT_RPM)")
	f.DurationVar(&serveFlags.cleanupInterval, "cleanup-interval", 0, "interval between expired code and token sweeps, 0 disables (MCP_CLEANUP_INTERVAL)")
	f.BoolVar(&serveFlags.trustForwarded, "trust-forwarded-for", false, "rate limit on X-Forwarded-For (MCP_TRUST_FORWARDED_FOR)")
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFiles()...)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = serveFlags.port
	}
	if cmd.Flags().Changed("auth-mode") {
		cfg.AuthMode = serveFlags.mode
	}
	if cmd.Flags().Changed("issuer") {
		cfg.Issuer = serveFlags.issuer
	}
	if cmd.Flags().Changed("storage") {
		cfg.StorageBackend = serveFlags.backend
	}
	if cmd.Flags().Changed("tools") {
		cfg.Tools = serveFlags.tools
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.RateLimitRPM = serveFlags.rateLimit
	}
	if cmd.Flags().Changed("cleanup-interval") {
		cfg.CleanupInterval = serveFlags.cleanupInterval
	}
	if cmd.Flags().Changed("trust-forwarded-for") {
		cfg.TrustForwardedFor = serveFlags.trustForwarded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := extendapi.NewClient(append(cfg.ClientOptions(), extendapi.WithLogger(log))...)
	registry := tools.NewRegistry(client, cfg.Permissions())
	mcpHandler, err := mcphttp.New(registry,
		mcphttp.WithLogger(log),
		mcphttp.WithServerInfo(mcp.ImplementationInfo{Name: "extend-mcp", Title: "Extend", Version: version}),
		mcphttp.WithInstructions(instructions),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	g, ctx := errgroup.WithContext(ctx)

	switch cfg.Mode() {
	case config.ModeAPIKey:
		log.Info("auth.mode", slog.String("mode", config.ModeAPIKey))
		static := auth.StaticUser(auth.UserContext{
			Credentials: auth.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret},
		})
		mux.Handle(mcpPath, static(mcpHandler))

	default:
		oc := cfg.OAuth()
		if err := oc.Validate(); err != nil {
			return err
		}
		stores, err := oauth.OpenStores(ctx, oc.Storage, log)
		if err != nil {
			return err
		}
		defer stores.Close()
		if stores.Backend == oauth.BackendFile {
			log.Warn("storage.file.single_instance",
				slog.String("tokens", oc.Storage.TokenPath),
				slog.String("codes", oc.Storage.CodePath))
		}

		handler, err := newOAuthHandler(cfg, stores, log)
		if err != nil {
			return err
		}
		authSrv, err := authserver.New(oc, handler, client, authServerOptions(cfg, log)...)
		if err != nil {
			return err
		}

		mux.Handle(mcpPath, auth.Middleware(handler, auth.WithLogger(log))(mcpHandler))
		mux.Handle("/", authSrv)

		g.Go(func() error {
			handler.RunJanitor(ctx, cfg.CleanupInterval)
			return nil
		})
		log.Info("auth.mode", slog.String("mode", config.ModeOAuth),
			slog.String("issuer", oc.Issuer),
			slog.String("storage", stores.Backend))
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           logctx.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("http.listen", slog.String("addr", srv.Addr), slog.String("tools", cfg.Permissions().String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("http.shutdown")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newOAuthHandler(cfg *config.Config, stores *oauth.Stores, log *slog.Logger) (*oauth.Handler, error) {
	opts := []oauth.Option{
		oauth.WithLogger(log),
		oauth.WithTokenTTL(cfg.OAuth().TokenTTL()),
	}
	if cfg.EncryptionKey != "" {
		cipher, err := credentials.NewAEAD(cfg.EncryptionKey, credentials.WithFallback(credentials.NewXOR(cfg.EncryptionKey)))
		if err != nil {
			return nil, err
		}
		opts = append(opts, oauth.WithCipher(cipher))
	} else {
		log.Warn("credentials.ephemeral_key", slog.String("hint", "set MCP_OAUTH_ENCRYPTION_KEY to keep tokens valid across restarts"))
	}
	return oauth.NewHandler(stores.Codes, stores.Tokens, opts...)
}

func authServerOptions(cfg *config.Config, log *slog.Logger) []authserver.Option {
	opts := []authserver.Option{
		authserver.WithLogger(log),
		authserver.WithRateLimit(cfg.RateLimitRPM),
	}
	if cfg.TrustForwardedFor {
		opts = append(opts, authserver.WithForwardedClientIP())
	}
	return opts
}
