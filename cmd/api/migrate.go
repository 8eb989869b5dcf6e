package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iago/section-writer-back/internal/config"
	"github.com/iago/section-writer-back/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to DATABASE_URL",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	log := newLogger(cfg)
	defer func() { _ = log.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pg, err := repository.OpenPostgres(ctx, cfg.Database.URL, repository.PostgresOptions{
		MaxConns:    2,
		PingTimeout: cfg.Database.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := repository.RunMigrations(ctx, pg.DB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
