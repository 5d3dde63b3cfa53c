package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/lookbook/internal/platform/postgres"
	"github.com/phrazzld/lookbook/internal/service/auth"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the task queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			app, err := newApplication(ctx, cfg, slog.Default(), autoMigrate)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false,
		"apply pending database migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the request status schema",
		Long:  `Apply, roll back or inspect the Postgres migrations. Requires database.url.`,
	}
	cmd.AddCommand(
		migrationCmd("up", "Apply all pending migrations", postgres.Migrate),
		migrationCmd("down", "Roll back the most recent migration", postgres.Rollback),
		migrationCmd("status", "Log the state of every migration", postgres.MigrationStatus),
	)
	return cmd
}

// migrationCmd runs op against a pool opened from the configured database
func migrationCmd(use, short string, op func(context.Context, *pgxpool.Pool, *slog.Logger) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeApp()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is not configured")
			}
			pool, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := op(cmd.Context(), pool, slog.Default()); err != nil {
				return fmt.Errorf("migrate %s failed: %w", use, err)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an API client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeApp()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifetime)
			if err != nil {
				return fmt.Errorf("bearer tokens are not configured: %w", err)
			}
			token, err := tokens.GenerateToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "client name recorded in the token")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
