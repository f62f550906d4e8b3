package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.DatabaseEnabled() {
				return errors.New("DB_HOST is not set")
			}
			_, db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return a.migrate(db)
		},
	}
}

func (a *app) migrate(db database.DB) error {
	ms := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return ms.MigratePostgres(db.SqlDB(), a.cfg.DatabaseName)
}
