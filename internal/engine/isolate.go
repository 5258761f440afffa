// File: internal/engine/isolate.go
// Brief: Catch-report-continue execution shared by post-deploy actions and post-setup.

package engine

import (
	"context"
	"fmt"
	"time"
)

type NamedAction struct {
	Name string
	Run  func(ctx context.Context) error
	// Timeout bounds Run; zero leaves it bounded only by ctx.
	Timeout time.Duration
	// Grace is how long an overrunning Run may take to unwind.
	Grace time.Duration
}

// ApplyIsolated runs actions in order. A failing or panicking action is
// reported and recorded, and the remaining actions still run. Once ctx is
// done the remaining actions are recorded as failed without being called.
func ApplyIsolated(ctx context.Context, scope string, actions []NamedAction, report func(Failure)) []Failure {
	var failures []Failure
	fail := func(name string, err error) {
		f := Failure{Unit: scope, Action: name, Err: err}
		failures = append(failures, f)
		if report != nil {
			report(f)
		}
	}
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			fail(a.Name, err)
			continue
		}
		if err := runRecovered(ctx, a); err != nil {
			fail(a.Name, err)
		}
	}
	return failures
}

func runRecovered(ctx context.Context, a NamedAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if a.Run == nil {
		return fmt.Errorf("action %s has no implementation", a.Name)
	}
	if a.Timeout <= 0 {
		return a.Run(ctx)
	}
	_, err = callBounded(ctx, a.Timeout, a.Grace, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.Run(ctx)
	})
	return err
}
