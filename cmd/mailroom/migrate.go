package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Connects to the configured database and applies schema migrations.

Safe to run multiple times (idempotent). The serve command also migrates on
startup; this exists for provisioning and for checking connectivity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Mailroom config file")
	return cmd
}

func runMigrate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(conn); err != nil {
		return err
	}
	fmt.Fprintln(out, "Database schema is up to date")
	return nil
}
