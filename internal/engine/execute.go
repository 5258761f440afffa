// File: internal/engine/execute.go
// Brief: Task entrypoint: resolve, orchestrate, post-setup, summarize.

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/depgraph"
	"github.com/example/mgnctl/internal/envconfig"
)

// Task is a declarative deployment: a unit graph, the post-setup steps that
// follow it and the checkpoint document it reads and writes.
type Task struct {
	Name             string
	CheckpointPrefix string
	Units            []Unit
	PostSetup        []SetupStep
}

type ExecuteOptions struct {
	Env       string
	Network   string
	Constants envconfig.Provider
	Store     checkpoint.Store
	Deployer  Deployer
	Log       logr.Logger

	UnitTimeout   time.Duration
	ActionTimeout time.Duration
	AbandonGrace  time.Duration
	Redeploy      []string

	RunID     string
	Observers []Observer
}

type Report struct {
	RunID      string
	Task       string
	Env        string
	Network    string
	StartedAt  time.Time
	FinishedAt time.Time

	Order         []string
	Result        *Result
	SetupFailures []Failure
	// Blocked maps each failed unit to the units left unresolved because of it.
	Blocked map[string][]string
}

// Failures returns unit and post-setup failures in the order they occurred.
func (r *Report) Failures() []Failure {
	if r == nil {
		return nil
	}
	var out []Failure
	if r.Result != nil {
		out = append(out, r.Result.Failures...)
	}
	return append(out, r.SetupFailures...)
}

// Complete reports whether every unit produced a handle and nothing failed.
func (r *Report) Complete() bool {
	return r != nil && r.Result != nil && len(r.Result.Unresolved) == 0 && len(r.Failures()) == 0
}

func NewRunID(now time.Time) string {
	return now.UTC().Format("2006-01-02T15-04-05.000000000Z")
}

// Plan resolves the task graph without side effects.
func Plan(t Task) ([]Unit, *depgraph.Graph, error) {
	ordered, err := depgraph.Resolve(t.Units)
	if err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", t.Name, err)
	}
	g, err := depgraph.Build(t.Units)
	if err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", t.Name, err)
	}
	return ordered, g, nil
}

// Execute runs a task end to end. Structural problems (cycles, unknown
// dependencies, unknown environment, unreadable checkpoint) abort before any
// deployment and are returned as errors. Per-unit and per-step problems are
// collected in the report instead.
func Execute(ctx context.Context, t Task, opts ExecuteOptions) (*Report, error) {
	ordered, g, err := Plan(t)
	if err != nil {
		return nil, err
	}
	if err := checkRedeploy(t, opts.Redeploy); err != nil {
		return nil, err
	}
	if opts.Constants == nil {
		return nil, errors.New("constants provider is required")
	}
	constants, err := opts.Constants.Constants(opts.Env)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.Name, err)
	}
	rc := RunContext{Env: opts.Env, Network: opts.Network, Constants: constants}

	runID := opts.RunID
	if runID == "" {
		runID = NewRunID(time.Now())
	}
	log := opts.Log.WithValues("task", t.Name, "env", opts.Env, "runId", runID)
	o := &Orchestrator{
		Store:         opts.Store,
		Deployer:      opts.Deployer,
		Log:           log,
		UnitTimeout:   opts.UnitTimeout,
		ActionTimeout: opts.ActionTimeout,
		AbandonGrace:  opts.AbandonGrace,
		Redeploy:      opts.Redeploy,
		RunID:         runID,
		Task:          t.Name,
		Observers:     opts.Observers,
	}

	report := &Report{RunID: runID, Task: t.Name, Env: opts.Env, Network: opts.Network, StartedAt: time.Now().UTC()}
	for _, u := range ordered {
		report.Order = append(report.Order, u.Name)
	}
	o.emit(Event{Type: RunStarted, Env: opts.Env, Message: strings.Join(report.Order, ",")})
	log.Info("run started", "units", len(ordered))

	res, runErr := o.Run(ctx, ordered, rc)
	if res == nil {
		return nil, runErr
	}
	report.Result = res
	if runErr == nil {
		report.SetupFailures = o.PostSetup(ctx, t.PostSetup, res.Handles, rc)
	}
	report.Blocked = blockedBy(res, g)
	report.FinishedAt = time.Now().UTC()

	logSummary(log, report)
	o.emit(Event{Type: RunCompleted, Env: opts.Env, Message: summaryLine(report)})
	return report, runErr
}

func checkRedeploy(t Task, names []string) error {
	known := make(map[string]struct{}, len(t.Units))
	for _, u := range t.Units {
		known[u.Name] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return fmt.Errorf("task %s: cannot redeploy unknown unit %q", t.Name, n)
		}
	}
	return nil
}

// blockedBy attributes unresolved units to the failed units they depend on.
func blockedBy(res *Result, g *depgraph.Graph) map[string][]string {
	unresolved := make(map[string]struct{}, len(res.Unresolved))
	for _, n := range res.Unresolved {
		unresolved[n] = struct{}{}
	}
	out := map[string][]string{}
	for _, f := range res.Failures {
		if f.Action != "" || errors.Is(f.Err, ErrUnresolvedDependency) {
			continue
		}
		var blocked []string
		for _, dep := range g.DependentsOf(f.Unit) {
			if _, ok := unresolved[dep]; ok {
				blocked = append(blocked, dep)
			}
		}
		sort.Strings(blocked)
		out[f.Unit] = blocked
	}
	return out
}

func summaryLine(r *Report) string {
	res := r.Result
	return fmt.Sprintf("deployed=%d rehydrated=%d unresolved=%d failures=%d",
		len(res.Deployed), len(res.Rehydrated), len(res.Unresolved), len(r.Failures()))
}

func logSummary(log logr.Logger, r *Report) {
	res := r.Result
	log.Info("run finished", "deployed", len(res.Deployed), "rehydrated", len(res.Rehydrated), "unresolved", len(res.Unresolved), "failures", len(r.Failures()))
	for _, f := range r.Failures() {
		if errors.Is(f.Err, ErrPersistFailed) {
			log.Info("WARNING: checkpoint is behind the chain; restore it before the next run", "unit", f.Unit, "id", res.Record[f.Unit])
		}
	}
	if len(res.Unresolved) == 0 {
		return
	}
	roots := make([]string, 0, len(r.Blocked))
	for k := range r.Blocked {
		roots = append(roots, k)
	}
	sort.Strings(roots)
	for _, root := range roots {
		log.Info("unit unresolved", "unit", root, "blocks", r.Blocked[root])
	}
	log.Info("unresolved units", "units", res.Unresolved)
}
