package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/noah-isme/perf-eval-api/pkg/database"
)

// MigrateCmd applies or rolls back the embedded schema migrations.
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(migrateDirectionCmd(database.Up, "Apply all pending migrations"))
	cmd.AddCommand(migrateDirectionCmd(database.Down, "Roll back every migration"))
	return cmd
}

func migrateDirectionCmd(direction database.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadConfig()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(cmd.Context(), db, direction, logr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s migrations %s on %s\n",
				color.New(color.FgGreen).Sprint("✓"), direction, cfg.Database.Driver)
			return nil
		},
	}
}
