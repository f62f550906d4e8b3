package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

// batch opens the configured backends and wires the engine for a one-shot
// operation.
func (a *app) batch(ctx context.Context, fn func(ctx context.Context, eng *engine) error) error {
	store, db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rc, err := a.openRedis()
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}

	events := a.openEvents()
	defer events.Close()

	return fn(ctx, a.wire(store, rc, events))
}

func restaurantFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "restaurant", "r", "", "restaurant id")
	_ = cmd.MarkFlagRequired("restaurant")
}

func parseRestaurant(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid restaurant id %q: %w", raw, err)
	}
	return id, nil
}

func newRefreshCmd(a *app) *cobra.Command {
	var restaurant string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Recompute customer segments and reservation risk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rid, err := parseRestaurant(restaurant)
			if err != nil {
				return err
			}
			return a.batch(cmd.Context(), func(ctx context.Context, eng *engine) error {
				result, err := eng.lifecycle.RefreshAnalytics(ctx, rid)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	restaurantFlag(cmd, &restaurant)
	return cmd
}

func newExecuteCmd(a *app) *cobra.Command {
	var (
		restaurant string
		segment    string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Evaluate the restaurant's active rules and plan messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rid, err := parseRestaurant(restaurant)
			if err != nil {
				return err
			}

			var filter *models.Segment
			if segment != "" {
				s := models.Segment(segment)
				if !s.Valid() {
					return fmt.Errorf("unknown segment %q", segment)
				}
				filter = &s
			}

			return a.batch(cmd.Context(), func(ctx context.Context, eng *engine) error {
				result, err := eng.lifecycle.ExecuteRules(ctx, rid, filter)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	restaurantFlag(cmd, &restaurant)
	cmd.Flags().StringVar(&segment, "segment", "", "only run rules targeting this segment")
	return cmd
}
