package main

import (
	"errors"
	"fmt"

	"order-payment-service/config"
	"order-payment-service/internal/store"

	"github.com/spf13/cobra"
)

func connect() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}

			_, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.MigrateDown(steps); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()
			return printVersion(cmd, db)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, db *store.Store) error {
	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("schema version %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("schema version %d\n", version)
	return nil
}
