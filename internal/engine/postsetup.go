package engine

import (
	"context"
	"fmt"
)

// PostSetupScope names the post-setup phase in failures and events.
const PostSetupScope = "post-setup"

// PostSetup runs the fixed cross-artifact configuration steps after all units
// have been attempted. Steps whose handles are missing are skipped and
// reported; the rest run isolated from one another.
func (o *Orchestrator) PostSetup(ctx context.Context, steps []SetupStep, handles map[string]Handle, rc RunContext) []Failure {
	if len(steps) == 0 {
		return nil
	}
	log := o.Log.WithValues("phase", PostSetupScope)
	o.emit(Event{Type: PhaseStarted, Env: rc.Env, Unit: PostSetupScope})

	var failures []Failure
	in := SetupInput{Handles: handles, Run: rc}
	var runnable []NamedAction
	for _, step := range steps {
		if missing := missingHandles(step.Needs, handles); len(missing) > 0 {
			err := fmt.Errorf("%w: step %s needs %v", ErrUnresolvedDependency, step.Name, missing)
			failures = append(failures, Failure{Unit: PostSetupScope, Action: step.Name, Err: err})
			log.Info("skipping step", "step", step.Name, "missing", missing)
			o.emit(Event{Type: ActionFailed, Env: rc.Env, Unit: PostSetupScope, Action: step.Name, Error: newEventError(err)})
			continue
		}
		runnable = append(runnable, NamedAction{Name: step.Name, Run: func(ctx context.Context) error {
			if step.Apply == nil {
				return fmt.Errorf("step %s has no implementation", step.Name)
			}
			if err := step.Apply(ctx, in); err != nil {
				return err
			}
			log.V(1).Info("step applied", "step", step.Name)
			o.emit(Event{Type: ActionSucceeded, Env: rc.Env, Unit: PostSetupScope, Action: step.Name})
			return nil
		}, Timeout: o.actionTimeout(), Grace: o.grace()})
	}
	failures = append(failures, ApplyIsolated(ctx, PostSetupScope, runnable, func(f Failure) {
		log.Error(f.Err, "post-setup step failed", "step", f.Action)
		o.emit(Event{Type: ActionFailed, Env: rc.Env, Unit: PostSetupScope, Action: f.Action, Error: newEventError(f.Err)})
	})...)

	o.emit(Event{Type: PhaseCompleted, Env: rc.Env, Unit: PostSetupScope, Message: fmt.Sprintf("%d/%d steps failed", len(failures), len(steps))})
	return failures
}

func missingHandles(needs []string, handles map[string]Handle) []string {
	var missing []string
	for _, n := range needs {
		if _, ok := handles[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
