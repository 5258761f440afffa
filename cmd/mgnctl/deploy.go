// File: cmd/mgnctl/deploy.go
// Brief: `mgnctl deploy <task>`: resumable, checkpointed deployment of one task.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/envconfig"
	"github.com/example/mgnctl/internal/journal"
	"github.com/example/mgnctl/internal/protocol"
)

var errUnresolvedUnits = errors.New("deployment incomplete")

// wethLayoutNote explains the per-chain wrapped native checkpoint layout.
var wethLayoutNote = `The wrapped native address is recorded in ` + protocol.WrappedNativePrefix + `-<chainId>.json under the
output directory, one file per chain. Older tooling kept every chain in a
single Weth.json keyed by chain id; that file is not read. To resume from it,
copy each chain's entry into ` + protocol.WrappedNativePrefix + `-<chainId>.json as {"weth": "<address>"}.`

type deployOptions struct {
	strict    bool
	redeploy  []string
	noJournal bool
}

func newDeployCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a task, resuming from its checkpoint",
		Long: `Deploy the units of a task in dependency order.

Units already recorded in the task's checkpoint for the target chain are bound
instead of redeployed, so rerunning after a failure picks up where the last run
stopped. Each newly deployed address is written to the checkpoint before the
next unit starts.`,
		Args: cobra.NoArgs,
	}
	for _, name := range protocol.TaskNames() {
		cmd.AddCommand(newDeployTaskCommand(root, name))
	}
	return cmd
}

func newDeployTaskCommand(root *rootOptions, taskName string) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   taskName,
		Short: fmt.Sprintf("Deploy the %s task", taskName),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := protocol.TaskByName(taskName)
			if err != nil {
				return err
			}
			log, err := root.logger(cmd)
			if err != nil {
				return err
			}
			constants, err := envconfig.LoadValuesFile(expandPath(root.valuesPath))
			if err != nil {
				return err
			}
			// Fail on an invalid graph before touching the network.
			if _, _, err := engine.Plan(task); err != nil {
				return err
			}
			s, err := root.connect(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := constants.Constants(s.env); err != nil {
				return err
			}
			if err := root.confirmBroadcast(cmd, s, fmt.Sprintf("Deploy %s", task.Name)); err != nil {
				return err
			}
			return runTask(cmd, root, opts, task, taskTarget{
				env:       s.env,
				network:   s.network.Name,
				deployer:  s.deployer,
				constants: constants,
			}, log)
		},
	}
	if taskName == protocol.TaskWrappedNative {
		cmd.Long = "Deploy the wrapped native token for the target chain.\n\n" + wethLayoutNote
	}
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when any unit or setup step is left unresolved")
	cmd.Flags().StringSliceVar(&opts.redeploy, "redeploy", nil, "Units to deploy again even if recorded (repeatable)")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "Do not record the run in the journal database")
	return cmd
}

// taskTarget is everything runTask needs from a connected session.
type taskTarget struct {
	env       string
	network   string
	deployer  engine.Deployer
	constants envconfig.Provider
}

func runTask(cmd *cobra.Command, root *rootOptions, opts *deployOptions, task engine.Task, target taskTarget, log logr.Logger) error {
	store, err := root.checkpointStore(task.CheckpointPrefix)
	if err != nil {
		return err
	}
	var observers []engine.Observer
	if !opts.noJournal {
		j, err := journal.Open(expandPath(root.statePath), false)
		if err != nil {
			log.Error(err, "run journal unavailable; continuing without it", "path", root.statePath)
		} else {
			defer j.Close()
			defer func() {
				if err := j.Err(); err != nil {
					log.Error(err, "run journal write failed", "path", j.Path())
				}
			}()
			observers = append(observers, j)
		}
	}

	report, runErr := engine.Execute(cmd.Context(), task, engine.ExecuteOptions{
		Env:           target.env,
		Network:       target.network,
		Constants:     target.constants,
		Store:         store,
		Deployer:      target.deployer,
		Log:           log,
		UnitTimeout:   root.unitTimeout,
		ActionTimeout: root.actionTimeout,
		Redeploy:      normalizeNames(opts.redeploy),
		Observers:     observers,
	})
	if report != nil {
		out := cmd.OutOrStdout()
		if err := engine.PrintReport(out, report, isTerminalWriter(out) && !color.NoColor); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Checkpoint: %s\n", store.Path(target.env))
	}
	if runErr != nil {
		return runErr
	}
	if opts.strict && !report.Complete() {
		return fmt.Errorf("%w: %d failure(s) in task %s", errUnresolvedUnits, len(report.Failures()), task.Name)
	}
	return nil
}

func normalizeNames(in []string) []string {
	var out []string
	for _, n := range in {
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
