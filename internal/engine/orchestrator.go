// File: internal/engine/orchestrator.go
// Brief: Sequential checkpointed execution of resolved units.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/mgnctl/internal/checkpoint"
)

// DefaultUnitTimeout bounds one factory call, including confirmation waits.
const DefaultUnitTimeout = 5 * time.Minute

type Orchestrator struct {
	Store    checkpoint.Store
	Deployer Deployer
	Log      logr.Logger

	UnitTimeout time.Duration
	// ActionTimeout bounds each rehydration, post-deploy action and post-setup
	// step. Zero means UnitTimeout.
	ActionTimeout time.Duration
	// AbandonGrace is how long an overrunning call may take to unwind before
	// the next unit starts. Zero means DefaultAbandonGrace.
	AbandonGrace time.Duration
	// Redeploy lists units whose recorded identifiers are discarded before the run.
	Redeploy []string

	RunID     string
	Task      string
	Observers []Observer
}

type Result struct {
	Handles map[string]Handle
	// Record is the in-memory checkpoint after the run. It may be ahead of the
	// persisted copy when a save failed.
	Record     checkpoint.Record
	Deployed   []string
	Rehydrated []string
	Failures   []Failure
	// Unresolved lists units without a handle, in execution order.
	Unresolved []string
}

// Run executes units in the given order, which must already satisfy their
// dependencies. Recorded units are rehydrated, never redeployed; every new
// identifier is persisted before the next unit starts.
func (o *Orchestrator) Run(ctx context.Context, units []Unit, rc RunContext) (*Result, error) {
	if o.Store == nil {
		return nil, errors.New("orchestrator: checkpoint store is required")
	}
	if o.Deployer == nil {
		return nil, errors.New("orchestrator: deployer is required")
	}
	record, err := o.Store.Load(ctx, rc.Env)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	record = record.Clone()
	for _, name := range o.Redeploy {
		if checkpoint.Has(record, name) {
			o.Log.Info("discarding recorded artifact for redeploy", "unit", name, "id", record[name])
			delete(record, name)
		}
	}

	res := &Result{Handles: map[string]Handle{}, Record: record}
	var runErr error
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		o.runUnit(ctx, u, rc, res)
	}
	for _, u := range units {
		if _, ok := res.Handles[u.Name]; !ok {
			res.Unresolved = append(res.Unresolved, u.Name)
		}
	}
	return res, runErr
}

func (o *Orchestrator) runUnit(ctx context.Context, u Unit, rc RunContext, res *Result) {
	log := o.Log.WithValues("unit", u.Name)

	if checkpoint.Has(res.Record, u.Name) {
		id := res.Record[u.Name]
		h, err := callBounded(ctx, o.actionTimeout(), o.grace(), func(ctx context.Context) (Handle, error) {
			return o.Deployer.Bind(ctx, u.KindOrName(), id)
		})
		if err != nil {
			o.fail(log, res, rc, u.Name, fmt.Errorf("%w: rehydrate %s at %s: %w", ErrFactoryFailed, u.Name, id, err))
			return
		}
		res.Handles[u.Name] = h
		res.Rehydrated = append(res.Rehydrated, u.Name)
		log.V(1).Info("rehydrated from checkpoint", "id", id)
		o.emit(Event{Type: UnitRehydrated, Env: rc.Env, Unit: u.Name, ID: id})
		return
	}

	deps := make(map[string]Handle, len(u.Needs))
	for _, need := range u.Needs {
		h, ok := res.Handles[need]
		if !ok {
			err := fmt.Errorf("%w: %s needs %s", ErrUnresolvedDependency, u.Name, need)
			res.Failures = append(res.Failures, Failure{Unit: u.Name, Err: err})
			log.Info("skipping unit", "missing", need)
			o.emit(Event{Type: UnitSkipped, Env: rc.Env, Unit: u.Name, Message: "missing " + need, Error: newEventError(err)})
			return
		}
		deps[need] = h
	}

	if u.BindOnly() {
		o.fail(log, res, rc, u.Name, fmt.Errorf("%w: %s is not provisioned in the %s checkpoint", ErrFactoryFailed, u.Name, rc.Env))
		return
	}

	started := time.Now()
	h, err := o.invokeFactory(ctx, u, FactoryInput{Unit: u.Name, Deps: deps, Run: rc, Deployer: o.Deployer})
	if err != nil {
		o.fail(log, res, rc, u.Name, err)
		return
	}
	id := h.ID()
	res.Handles[u.Name] = h
	res.Record[u.Name] = id
	res.Deployed = append(res.Deployed, u.Name)
	log.Info("deployed", "id", id, "duration", time.Since(started).Round(time.Millisecond).String())
	o.emit(Event{Type: UnitDeployed, Env: rc.Env, Unit: u.Name, ID: id})

	o.persist(ctx, log, res, rc, u.Name)

	if len(u.PostDeploy) == 0 {
		return
	}
	in := ActionInput{Self: h, Deps: deps, Run: rc}
	actions := make([]NamedAction, 0, len(u.PostDeploy))
	for _, a := range u.PostDeploy {
		actions = append(actions, NamedAction{Name: a.Name, Run: func(ctx context.Context) error {
			if a.Apply == nil {
				return fmt.Errorf("action %s has no implementation", a.Name)
			}
			if err := a.Apply(ctx, in); err != nil {
				return err
			}
			log.V(1).Info("post-deploy action applied", "action", a.Name)
			o.emit(Event{Type: ActionSucceeded, Env: rc.Env, Unit: u.Name, Action: a.Name})
			return nil
		}, Timeout: o.actionTimeout(), Grace: o.grace()})
	}
	failures := ApplyIsolated(ctx, u.Name, actions, func(f Failure) {
		log.Error(f.Err, "post-deploy action failed", "action", f.Action)
		o.emit(Event{Type: ActionFailed, Env: rc.Env, Unit: u.Name, Action: f.Action, Error: newEventError(f.Err)})
	})
	res.Failures = append(res.Failures, failures...)
}

// invokeFactory bounds the factory by UnitTimeout. Factories must pass ctx to
// every chain request: one that ignores it is abandoned after AbandonGrace
// and may still be submitting when the next unit starts.
func (o *Orchestrator) invokeFactory(ctx context.Context, u Unit, in FactoryInput) (Handle, error) {
	h, err := callBounded(ctx, o.unitTimeout(), o.grace(), func(ctx context.Context) (Handle, error) {
		return u.Factory(ctx, in)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFactoryFailed, u.Name, err)
	}
	if h == nil || h.ID() == "" {
		return nil, fmt.Errorf("%w: %s: factory returned no identifier", ErrFactoryFailed, u.Name)
	}
	return h, nil
}

func (o *Orchestrator) unitTimeout() time.Duration {
	if o.UnitTimeout > 0 {
		return o.UnitTimeout
	}
	return DefaultUnitTimeout
}

func (o *Orchestrator) actionTimeout() time.Duration {
	if o.ActionTimeout > 0 {
		return o.ActionTimeout
	}
	return o.unitTimeout()
}

func (o *Orchestrator) grace() time.Duration {
	if o.AbandonGrace > 0 {
		return o.AbandonGrace
	}
	return DefaultAbandonGrace
}

// persist writes the record even if ctx was cancelled after the unit
// completed; the store's write timeout bounds it.
func (o *Orchestrator) persist(ctx context.Context, log logr.Logger, res *Result, rc RunContext, unit string) {
	if err := o.Store.Save(context.WithoutCancel(ctx), rc.Env, res.Record.Clone()); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistFailed, err)
		res.Failures = append(res.Failures, Failure{Unit: unit, Action: "persist", Err: err})
		log.Error(err, "checkpoint not persisted; this unit will be deployed again on the next run unless the record is restored", "id", res.Record[unit])
		o.emit(Event{Type: PersistFailed, Env: rc.Env, Unit: unit, ID: res.Record[unit], Error: newEventError(err)})
		return
	}
	o.emit(Event{Type: CheckpointSaved, Env: rc.Env, Unit: unit, ID: res.Record[unit]})
}

func (o *Orchestrator) fail(log logr.Logger, res *Result, rc RunContext, unit string, err error) {
	res.Failures = append(res.Failures, Failure{Unit: unit, Err: err})
	log.Error(err, "unit failed", "class", ErrorClass(err))
	o.emit(Event{Type: UnitFailed, Env: rc.Env, Unit: unit, Error: newEventError(err)})
}

func (o *Orchestrator) emit(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	ev.RunID = o.RunID
	ev.Task = o.Task
	for _, obs := range o.Observers {
		if obs == nil {
			continue
		}
		obs.ObserveEvent(ev)
	}
}
