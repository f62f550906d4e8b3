package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/kafka"
	"github.com/gustausantin/La-ia-app-sub001/pkg/playbook"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		file    string
		dryRun  bool
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a restaurant playbook (settings, credentials, templates, rules, customers)",
		Long: "Load a restaurant playbook. Without DB_HOST the playbook is applied to an in-memory " +
			"store, which is only useful together with --run to see what the rules would plan.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pb, err := playbook.Load(file)
			if err != nil {
				return err
			}
			if dryRun {
				a.logger.Infof("Playbook %s is valid: %d templates, %d rules", file, len(pb.Templates), len(pb.Rules))
				return nil
			}
			return a.seed(cmd.Context(), pb, execute)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "playbook YAML file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the playbook without storing it")
	cmd.Flags().BoolVar(&execute, "run", false, "refresh analytics and execute rules after seeding")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) seed(ctx context.Context, pb *playbook.Playbook, execute bool) error {
	store, db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	summary, err := a.applyPlaybook(ctx, pb, store, db)
	if err != nil {
		return err
	}
	if err := printJSON(summary); err != nil {
		return err
	}
	if !execute {
		return nil
	}

	eng := a.wire(store, nil, kafka.NoopPublisher{})
	rid := pb.Restaurant.RestaurantID
	refresh, err := eng.lifecycle.RefreshAnalytics(ctx, rid)
	if err != nil {
		return err
	}
	result, err := eng.lifecycle.ExecuteRules(ctx, rid, nil)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"refresh": refresh, "rules": result})
}

// applyPlaybook stores the playbook in one transaction when Postgres backs the
// store, so a bad row leaves nothing half-seeded.
func (a *app) applyPlaybook(ctx context.Context, pb *playbook.Playbook, store playbook.Store, db database.DB) (summary playbook.Summary, err error) {
	if db == nil {
		return pb.Apply(ctx, store, a.logger)
	}

	ctx, tx, err := database.GetTx(ctx, a.logger, db, nil)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if summary, err = pb.Apply(ctx, store, a.logger); err != nil {
		return summary, err
	}
	err = tx.Commit(ctx)
	return summary, err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
