package cmd

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/database"
	apperrors "github.com/aihub/docqa/internal/errors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the document registry schema",
		Long: `Apply or roll back the registry migrations embedded in the binary.
Uses database.url from the configuration (or DATABASE_URL).`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrations(func(mm *database.MigrationManager) error {
					if err := mm.Up(); err != nil {
						return err
					}
					fmt.Fprintln(c.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrations(func(mm *database.MigrationManager) error {
					if err := mm.Down(); err != nil {
						return err
					}
					fmt.Fprintln(c.OutOrStdout(), "rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrations(func(mm *database.MigrationManager) error {
					version, dirty, err := mm.Version()
					if err != nil {
						return err
					}
					suffix := ""
					if dirty {
						suffix = " (dirty - manual intervention required)"
					}
					fmt.Fprintf(c.OutOrStdout(), "current version: %d%s\n", version, suffix)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return apperrors.NewInvalidInputError("version", "must be a non-negative integer")
				}
				return withMigrations(func(mm *database.MigrationManager) error {
					return mm.ForceVersion(uint(version))
				})
			},
		},
	)
	return cmd
}

func withMigrations(fn func(mm *database.MigrationManager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return apperrors.NewConfigError("database.url is not configured")
	}

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	db, err := database.OpenMigrationDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	mm, err := database.NewMigrationManager(db, log)
	if err != nil {
		db.Close()
		return err
	}
	defer mm.Close()

	return fn(mm)
}
