package main

import (
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckpointCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"checkpoints"},
		Short:   "Show or reset per-entity migration progress",
	}
	cmd.AddCommand(newCheckpointListCmd(root), newCheckpointResetCmd(root))
	return cmd
}

func newCheckpointListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entity checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			cps, err := a.checkpoints.List(cmd.Context())
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				if cps == nil {
					cps = []checkpoint.Checkpoint{}
				}
				return printJSON(cmd.OutOrStdout(), cps)
			}
			renderCheckpoints(cmd.OutOrStdout(), cps)
			return nil
		},
	}
}

func newCheckpointResetCmd(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [entity]",
		Short: "Forget the progress of an entity so its next run starts over",
		Example: `  syncctl checkpoint reset product
  syncctl checkpoint reset --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either an entity or --all")
			}
			entities := integration.DependencyOrder()
			if !all {
				e, err := integration.ParseEntityType(args[0])
				if err != nil {
					return err
				}
				entities = []integration.EntityType{e}
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, entity := range entities {
				if err := a.resetCheckpoint(cmd, entity); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", entity)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reset every entity")
	return cmd
}

// resetCheckpoint deletes a checkpoint while holding the entity lock
func (a *app) resetCheckpoint(cmd *cobra.Command, entity integration.EntityType) error {
	ctx := cmd.Context()
	release, err := a.locker.Acquire(ctx, entity)
	if err != nil {
		return fmt.Errorf("reset %s: %w", entity, err)
	}
	defer release()
	if err := a.checkpoints.Delete(ctx, entity); err != nil {
		return err
	}
	a.logger.Info("Checkpoint reset", zap.String("entity", entity.String()))
	return nil
}
