// File: cmd/mgnctl/runs.go
// Brief: `mgnctl runs`: list journaled runs or show one run's units.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/mgnctl/internal/journal"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	var limit int
	var runID string
	var latest bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded deploy runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := expandPath(root.statePath)
			j, err := journal.Open(path, true)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no run journal at %s (run mgnctl deploy first)", path)
				}
				return err
			}
			defer j.Close()

			ctx := cmd.Context()
			id := strings.TrimSpace(runID)
			if latest && id == "" {
				if id, err = j.MostRecentRunID(ctx); err != nil {
					return err
				}
			}
			if id == "" {
				runs, err := j.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				return journal.PrintRunsTable(cmd.OutOrStdout(), runs)
			}
			units, err := j.Units(ctx, id)
			if err != nil {
				return err
			}
			if len(units) == 0 {
				return fmt.Errorf("run %s not found in %s", id, j.Path())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "RUN %s\n\n", id)
			return journal.PrintUnitsTable(cmd.OutOrStdout(), units)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the units of one run")
	cmd.Flags().BoolVar(&latest, "latest", false, "Show the units of the most recent run")
	return cmd
}
