package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/shortage/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, readOnlyDB, err := database.Connect(cfg.DB, debug)
		if err != nil {
			return err
		}
		defer func() {
			if readOnlyDB != db {
				_ = database.Close(readOnlyDB)
			}
			_ = database.Close(db)
		}()

		log.Info().Msg("Running database migrations...")
		if err := database.Migrate(db); err != nil {
			return err
		}

		log.Info().Msg("Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
