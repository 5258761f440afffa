// File: cmd/mgnctl/status.go
// Brief: `mgnctl status <task>`: show the checkpoint recorded for a chain.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/protocol"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task>",
		Short: "Show which units of a task are recorded for a chain",
		Long:  "Reads the task's checkpoint without contacting the network. The chain comes from --chain-id or the selected network.",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return protocol.TaskNames(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := protocol.TaskByName(args[0])
			if err != nil {
				return err
			}
			env, err := root.offlineEnvironment()
			if err != nil {
				return err
			}
			store, err := root.checkpointStore(task.CheckpointPrefix)
			if err != nil {
				return err
			}
			rec, ok, err := store.Peek(env)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "No checkpoint at %s; nothing deployed yet.\n", store.Path(env))
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Checkpoint: %s\n", store.Path(env))
			}
			return engine.PrintRecord(cmd.OutOrStdout(), task, rec)
		},
	}
	return cmd
}
