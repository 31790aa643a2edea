package main

import (
	"os/signal"
	"syscall"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/extendapi"
	"github.com/extendhq/extend-mcp-server-go/internal/config"
	"github.com/extendhq/extend-mcp-server-go/mcp"
	"github.com/extendhq/extend-mcp-server-go/mcphttp"
	"github.com/extendhq/extend-mcp-server-go/stdio"
	"github.com/extendhq/extend-mcp-server-go/tools"
	"github.com/spf13/cobra"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdin/stdout with the credentials from the environment",
	Long: `Runs a single-client MCP session over stdin/stdout, for use as a
subprocess of a desktop MCP client. Requests use EXTEND_API_KEY and
EXTEND_API_SECRET; there is no OAuth in this mode. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		cfg, err := config.Load(envFiles()...)
		if err != nil {
			return err
		}
		cfg.AuthMode = config.ModeAPIKey
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := extendapi.NewClient(append(cfg.ClientOptions(), extendapi.WithLogger(log))...)
		mh, err := mcphttp.New(tools.NewRegistry(client, cfg.Permissions()),
			mcphttp.WithLogger(log),
			mcphttp.WithServerInfo(mcp.ImplementationInfo{Name: "extend-mcp", Title: "Extend", Version: version}),
			mcphttp.WithInstructions(instructions),
		)
		if err != nil {
			return err
		}

		h := stdio.NewHandler(mh,
			stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
			stdio.WithLogger(log),
			stdio.WithUser(auth.UserContext{
				Credentials: auth.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret},
			}),
		)
		return h.Serve(ctx)
	},
}
