package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/stores"
)

func openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stateDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open apply history: %w", err)
	}
	return store, nil
}

func newHistoryCommand() *cobra.Command {
	var (
		limit   int
		state   string
		dryRuns bool
	)

	cmd := &cobra.Command{
		Use:   "history [cycle-id]",
		Short: "Show recorded apply cycles",
		Long: `List recorded apply cycles, newest first, or show one cycle with every
executed command and its output.`,
		Example: `  # Last 20 cycles
  imp history --limit 20

  # Failed cycles only
  imp history --state partially_failed

  # One cycle in full
  imp history 6f1c0c9e-5d0c-4f57-9a8e-0d7f3e0c8a11 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showCycle(ctx, store, args[0])
			}

			filter := stores.CycleFilter{Limit: limit, IncludeDryRuns: dryRuns}
			if state != "" {
				s := engine.CycleState(state)
				if err := s.Validate(); err != nil {
					return err
				}
				filter.State = &s
			}

			cycles, err := store.ListCycles(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cycles)
			}
			if len(cycles) == 0 {
				fmt.Println("No cycles recorded.")
				return nil
			}
			for _, c := range cycles {
				restart := ""
				if c.RestartRequired {
					restart = " restart-pending"
				}
				fmt.Printf("%s  %s  %-16s %d/%d live steps ok%s\n",
					c.ID, c.StartedAt.Local().Format(time.DateTime), c.State,
					c.Summary.Succeeded, c.Summary.Total-c.Summary.Pending, restart)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum cycles to list")
	cmd.Flags().StringVar(&state, "state", "", "only cycles that ended in this state")
	cmd.Flags().BoolVar(&dryRuns, "dry-runs", false, "include dry-run cycles")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func showCycle(ctx context.Context, store *stores.SQLiteStore, id string) error {
	c, err := store.GetCycle(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(c)
	}

	fmt.Printf("Cycle %s: %s\n", c.ID, c.State)
	fmt.Printf("Started %s, took %s, persisted %v\n", c.StartedAt.Local().Format(time.DateTime), c.Duration, c.Persisted)
	if c.Error != nil {
		fmt.Printf("Error: %s\n", *c.Error)
	}
	for _, o := range c.Outcomes {
		status := "ok"
		if !o.Success {
			status = "FAILED"
		}
		fmt.Printf("  %3d  %-6s %s (%s)\n", o.Step, status, o.Description, o.Duration)
		for _, cr := range o.Commands {
			fmt.Printf("         [%s] %s\n", cr.Target, firstLine(cr.Command))
		}
	}
	return nil
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old cycles from the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteCyclesBefore(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("History pruned")
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "delete cycles started before this age")

	return cmd
}
