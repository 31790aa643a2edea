package main

import (
	"fmt"
	"log/slog"

	"github.com/extendhq/extend-mcp-server-go/internal/config"
	"github.com/extendhq/extend-mcp-server-go/oauth"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired authorization codes and tokens once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		cfg, err := config.Load(envFiles()...)
		if err != nil {
			return err
		}
		oc := cfg.OAuth()
		if err := oc.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		stores, err := oauth.OpenStores(ctx, oc.Storage, log)
		if err != nil {
			return err
		}
		defer stores.Close()

		h, err := oauth.NewHandler(stores.Codes, stores.Tokens, oauth.WithLogger(log))
		if err != nil {
			return err
		}
		res, err := h.CleanupExpiredData(ctx)
		if err != nil {
			return err
		}
		log.Info("cleanup.done",
			slog.String("storage", stores.Backend),
			slog.Int("tokens", res.TokensCleaned),
			slog.Int("codes", res.CodesCleaned))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired tokens and %d expired codes\n", res.TokensCleaned, res.CodesCleaned)
		return nil
	},
}
