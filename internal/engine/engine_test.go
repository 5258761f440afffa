package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/depgraph"
	"github.com/example/mgnctl/internal/envconfig"
)

func execute(t *testing.T, task Task, store checkpoint.Store, d Deployer, mutate ...func(*ExecuteOptions)) *Report {
	t.Helper()
	opts := ExecuteOptions{
		Env:       testEnv,
		Network:   "hardhat",
		Constants: testConstants(),
		Store:     store,
		Deployer:  d,
	}
	for _, m := range mutate {
		m(&opts)
	}
	rep, err := Execute(context.Background(), task, opts)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return rep
}

func TestExecuteIsIdempotent(t *testing.T) {
	var actionRuns int32
	a := deployUnit("A")
	a.PostDeploy = []Action{{Name: "init", Apply: func(context.Context, ActionInput) error {
		atomic.AddInt32(&actionRuns, 1)
		return nil
	}}}
	task := Task{Name: "t", Units: []Unit{a, deployUnit("B", "A")}}
	store := checkpoint.NewMemoryStore()
	d := newFakeDeployer()

	first := execute(t, task, store, d)
	if !first.Complete() {
		t.Fatalf("first run incomplete: %+v", first.Failures())
	}
	second := execute(t, task, store, d)
	if got := d.deployed(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("deploys=%v, want exactly one per unit", got)
	}
	if len(second.Result.Deployed) != 0 || !reflect.DeepEqual(second.Result.Rehydrated, []string{"A", "B"}) {
		t.Fatalf("second run deployed=%v rehydrated=%v", second.Result.Deployed, second.Result.Rehydrated)
	}
	if !reflect.DeepEqual(first.Result.Record, second.Result.Record) {
		t.Fatalf("record changed: %v vs %v", first.Result.Record, second.Result.Record)
	}
	if actionRuns != 1 {
		t.Fatalf("post-deploy action ran %d times", actionRuns)
	}
}

func TestExecuteOrdersDependencies(t *testing.T) {
	var sawA bool
	b := deployUnit("B", "A")
	inner := b.Factory
	b.Factory = func(ctx context.Context, in FactoryInput) (Handle, error) {
		_, sawA = in.Deps["A"]
		return inner(ctx, in)
	}
	task := Task{Name: "t", Units: []Unit{deployUnit("C", "B"), b, deployUnit("A")}}
	d := newFakeDeployer()
	rep := execute(t, task, checkpoint.NewMemoryStore(), d)
	if got := d.deployed(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("deploy order=%v", got)
	}
	if !sawA {
		t.Fatalf("B factory did not receive A's handle")
	}
	if !reflect.DeepEqual(rep.Order, []string{"A", "B", "C"}) {
		t.Fatalf("report order=%v", rep.Order)
	}
}

func TestExecuteCycleHasNoSideEffects(t *testing.T) {
	task := Task{Name: "t", Units: []Unit{deployUnit("A", "B"), deployUnit("B", "A")}}
	store := checkpoint.NewMemoryStore()
	d := newFakeDeployer()
	_, err := Execute(context.Background(), task, ExecuteOptions{Env: testEnv, Constants: testConstants(), Store: store, Deployer: d})
	if !errors.Is(err, depgraph.ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(d.deployed()) != 0 || store.Saves() != 0 {
		t.Fatalf("side effects after cycle: deploys=%v saves=%d", d.deployed(), store.Saves())
	}
}

func TestExecuteUnknownEnvironmentAborts(t *testing.T) {
	d := newFakeDeployer()
	_, err := Execute(context.Background(), Task{Name: "t", Units: []Unit{deployUnit("A")}}, ExecuteOptions{
		Env: "1", Constants: testConstants(), Store: checkpoint.NewMemoryStore(), Deployer: d,
	})
	if !errors.Is(err, envconfig.ErrUnknownEnvironment) {
		t.Fatalf("expected unknown environment, got %v", err)
	}
	if len(d.deployed()) != 0 {
		t.Fatalf("deployed before config resolution: %v", d.deployed())
	}
}

func TestExecutePartialFailureIsolation(t *testing.T) {
	task := Task{Name: "t", Units: []Unit{
		deployUnit("A"),
		deployUnit("B"),
		deployUnit("C"),
		deployUnit("D", "B"),
	}}
	store := checkpoint.NewMemoryStore()
	d := newFakeDeployer()
	d.fail["B"] = errors.New("execution reverted")

	rep := execute(t, task, store, d)
	if got := rep.Result.Deployed; !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Fatalf("deployed=%v", got)
	}
	if got := rep.Result.Unresolved; !reflect.DeepEqual(got, []string{"B", "D"}) {
		t.Fatalf("unresolved=%v", got)
	}
	var sawFactory, sawUnresolved bool
	for _, f := range rep.Failures() {
		switch f.Unit {
		case "B":
			sawFactory = errors.Is(f.Err, ErrFactoryFailed)
		case "D":
			sawUnresolved = errors.Is(f.Err, ErrUnresolvedDependency)
		}
	}
	if !sawFactory || !sawUnresolved {
		t.Fatalf("unexpected failures: %v", rep.Failures())
	}
	if got := rep.Blocked["B"]; !reflect.DeepEqual(got, []string{"D"}) {
		t.Fatalf("blocked by B=%v", got)
	}

	delete(d.fail, "B")
	again := execute(t, task, store, d)
	if got := again.Result.Deployed; !reflect.DeepEqual(got, []string{"B", "D"}) {
		t.Fatalf("re-run deployed=%v, want only the failed unit and its dependent", got)
	}
	if !again.Complete() {
		t.Fatalf("re-run incomplete: %v", again.Failures())
	}
}

func TestExecuteResumesAfterCrash(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	store.Seed(testEnv, checkpoint.Record{"A": "0x00000000000000000000000000000000000000a1"})
	d := newFakeDeployer()
	task := Task{Name: "t", Units: []Unit{deployUnit("A"), deployUnit("B", "A"), deployUnit("C", "B")}}

	rep := execute(t, task, store, d)
	if got := d.deployed(); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("deploys=%v", got)
	}
	if got := rep.Result.Handles["A"].ID(); got != "0x00000000000000000000000000000000000000a1" {
		t.Fatalf("A rehydrated with id %s", got)
	}
	persisted, err := store.Load(context.Background(), testEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(persisted.Names(), []string{"A", "B", "C"}) {
		t.Fatalf("persisted=%v", persisted)
	}
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	store.SaveErr = errors.New("disk full")
	d := newFakeDeployer()
	rep := execute(t, Task{Name: "t", Units: []Unit{deployUnit("A"), deployUnit("B", "A")}}, store, d)
	if got := rep.Result.Deployed; !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("deployed=%v", got)
	}
	var persistFailures int
	for _, f := range rep.Failures() {
		if errors.Is(f.Err, ErrPersistFailed) {
			persistFailures++
		}
	}
	if persistFailures != 2 {
		t.Fatalf("persist failures=%d, want 2: %v", persistFailures, rep.Failures())
	}
	if rep.Result.Record["B"] == "" {
		t.Fatalf("in-memory record lost B")
	}
}

func TestFactoryTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := Unit{Name: "slow", Factory: func(context.Context, FactoryInput) (Handle, error) {
		<-release
		return nil, errors.New("unreachable")
	}}
	rep := execute(t, Task{Name: "t", Units: []Unit{slow, deployUnit("next")}}, checkpoint.NewMemoryStore(), newFakeDeployer(),
		func(o *ExecuteOptions) {
			o.UnitTimeout = 20 * time.Millisecond
			o.AbandonGrace = 10 * time.Millisecond
		})
	failures := rep.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures=%v", failures)
	}
	if !errors.Is(failures[0].Err, ErrTimeout) || !errors.Is(failures[0].Err, ErrFactoryFailed) {
		t.Fatalf("expected timeout factory failure, got %v", failures[0].Err)
	}
	if ErrorClass(failures[0].Err) != "TIMEOUT" {
		t.Fatalf("class=%s", ErrorClass(failures[0].Err))
	}
	if !reflect.DeepEqual(rep.Result.Deployed, []string{"next"}) {
		t.Fatalf("independent unit not deployed after timeout: %v", rep.Result.Deployed)
	}
}

// stallingBinder rehydrates nothing until ctx ends.
type stallingBinder struct{ *fakeDeployer }

func (b stallingBinder) Bind(ctx context.Context, _ string, _ string) (Handle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRehydrateTimeout(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	store.Seed(testEnv, checkpoint.Record{"A": "0x00000000000000000000000000000000000000a1"})
	d := newFakeDeployer()
	rep := execute(t, Task{Name: "t", Units: []Unit{deployUnit("A"), deployUnit("B")}}, store, stallingBinder{d},
		func(o *ExecuteOptions) { o.UnitTimeout = 20 * time.Millisecond })
	failures := rep.Failures()
	if len(failures) != 1 || failures[0].Unit != "A" {
		t.Fatalf("failures=%v", failures)
	}
	if !errors.Is(failures[0].Err, ErrTimeout) || !errors.Is(failures[0].Err, ErrFactoryFailed) {
		t.Fatalf("expected rehydrate timeout, got %v", failures[0].Err)
	}
	if !reflect.DeepEqual(d.deployed(), []string{"B"}) {
		t.Fatalf("deploys=%v, want recorded A left alone and B deployed", d.deployed())
	}
}

func TestActionTimeoutOverridesUnitTimeout(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	store.Seed(testEnv, checkpoint.Record{"A": "0x00000000000000000000000000000000000000a1"})
	rep := execute(t, Task{Name: "t", Units: []Unit{deployUnit("A")}}, store, stallingBinder{newFakeDeployer()},
		func(o *ExecuteOptions) {
			o.UnitTimeout = time.Hour
			o.ActionTimeout = 20 * time.Millisecond
		})
	if failures := rep.Failures(); len(failures) != 1 || ErrorClass(failures[0].Err) != "TIMEOUT" {
		t.Fatalf("failures=%v", failures)
	}
}

func TestPostDeployActionTimeout(t *testing.T) {
	a := deployUnit("A")
	a.PostDeploy = []Action{
		{Name: "hang", Apply: func(ctx context.Context, _ ActionInput) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "after", Apply: func(context.Context, ActionInput) error { return nil }},
	}
	rep := execute(t, Task{Name: "t", Units: []Unit{a, deployUnit("B")}}, checkpoint.NewMemoryStore(), newFakeDeployer(),
		func(o *ExecuteOptions) { o.UnitTimeout = 20 * time.Millisecond })
	failures := rep.Failures()
	if len(failures) != 1 || failures[0].Unit != "A" || failures[0].Action != "hang" {
		t.Fatalf("failures=%v", failures)
	}
	if !errors.Is(failures[0].Err, ErrTimeout) || ErrorClass(failures[0].Err) != "TIMEOUT" {
		t.Fatalf("expected action timeout, got %v", failures[0].Err)
	}
	if !reflect.DeepEqual(rep.Result.Deployed, []string{"A", "B"}) {
		t.Fatalf("deployed=%v", rep.Result.Deployed)
	}
}

func TestPostSetupStepTimeout(t *testing.T) {
	var ranAfter atomic.Bool
	task := Task{
		Name:  "t",
		Units: []Unit{deployUnit("A")},
		PostSetup: []SetupStep{
			{Name: "hang", Needs: []string{"A"}, Apply: func(ctx context.Context, _ SetupInput) error {
				<-ctx.Done()
				return ctx.Err()
			}},
			{Name: "after", Needs: []string{"A"}, Apply: func(context.Context, SetupInput) error {
				ranAfter.Store(true)
				return nil
			}},
		},
	}
	rep := execute(t, task, checkpoint.NewMemoryStore(), newFakeDeployer(),
		func(o *ExecuteOptions) { o.UnitTimeout = 20 * time.Millisecond })
	if len(rep.SetupFailures) != 1 || rep.SetupFailures[0].Action != "hang" {
		t.Fatalf("setup failures=%v", rep.SetupFailures)
	}
	if !errors.Is(rep.SetupFailures[0].Err, ErrTimeout) {
		t.Fatalf("expected step timeout, got %v", rep.SetupFailures[0].Err)
	}
	if !ranAfter.Load() {
		t.Fatalf("step after the timed-out one did not run")
	}
}

func TestPostDeployActionsAreIsolated(t *testing.T) {
	var ran []string
	a := deployUnit("A")
	a.PostDeploy = []Action{
		{Name: "first", Apply: func(context.Context, ActionInput) error {
			ran = append(ran, "first")
			return errors.New("boom")
		}},
		{Name: "second", Apply: func(context.Context, ActionInput) error {
			ran = append(ran, "second")
			panic("bad action")
		}},
		{Name: "third", Apply: func(_ context.Context, in ActionInput) error {
			ran = append(ran, "third")
			return in.Self.Invoke(context.Background(), Call{Method: "setX"})
		}},
	}
	rep := execute(t, Task{Name: "t", Units: []Unit{a}}, checkpoint.NewMemoryStore(), newFakeDeployer())
	if !reflect.DeepEqual(ran, []string{"first", "second", "third"}) {
		t.Fatalf("ran=%v", ran)
	}
	failures := rep.Failures()
	if len(failures) != 2 || failures[0].Action != "first" || failures[1].Action != "second" {
		t.Fatalf("failures=%v", failures)
	}
	if !strings.Contains(failures[1].Err.Error(), "panic") {
		t.Fatalf("panic not reported: %v", failures[1].Err)
	}
	h := rep.Result.Handles["A"].(*fakeHandle)
	if len(h.calls) != 1 || h.calls[0].Method != "setX" {
		t.Fatalf("calls=%v", h.calls)
	}
}

func TestBindOnlyUnitRequiresRecord(t *testing.T) {
	task := Task{Name: "t", Units: []Unit{{Name: "voter"}, deployUnit("router", "voter")}}
	rep := execute(t, task, checkpoint.NewMemoryStore(), newFakeDeployer())
	if !reflect.DeepEqual(rep.Result.Unresolved, []string{"voter", "router"}) {
		t.Fatalf("unresolved=%v", rep.Result.Unresolved)
	}
	if f := rep.Failures()[0]; f.Unit != "voter" || !errors.Is(f.Err, ErrFactoryFailed) {
		t.Fatalf("unexpected first failure %v", f)
	}

	store := checkpoint.NewMemoryStore()
	store.Seed(testEnv, checkpoint.Record{"voter": "0x00000000000000000000000000000000000000b0"})
	d := newFakeDeployer()
	rep = execute(t, task, store, d)
	if !rep.Complete() || !reflect.DeepEqual(d.deployed(), []string{"router"}) {
		t.Fatalf("deploys=%v failures=%v", d.deployed(), rep.Failures())
	}
}

func TestRedeployDiscardsRecordedUnit(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	store.Seed(testEnv, checkpoint.Record{"voter": "0x00000000000000000000000000000000000000b0", "router": "0x00000000000000000000000000000000000000b1"})
	task := Task{Name: "t", Units: []Unit{{Name: "voter"}, deployUnit("router", "voter")}}
	d := newFakeDeployer()
	rep := execute(t, task, store, d, func(o *ExecuteOptions) { o.Redeploy = []string{"router"} })
	if !reflect.DeepEqual(d.deployed(), []string{"router"}) {
		t.Fatalf("deploys=%v", d.deployed())
	}
	if rep.Result.Record["router"] == "0x00000000000000000000000000000000000000b1" {
		t.Fatalf("router was not replaced")
	}

	_, err := Execute(context.Background(), task, ExecuteOptions{
		Env: testEnv, Constants: testConstants(), Store: store, Deployer: d, Redeploy: []string{"nope"},
	})
	if err == nil {
		t.Fatalf("expected error for unknown redeploy unit")
	}
}

func TestPostSetupSkipsStepsWithMissingHandles(t *testing.T) {
	var ran []string
	step := func(name string, needs ...string) SetupStep {
		return SetupStep{Name: name, Needs: needs, Apply: func(context.Context, SetupInput) error {
			ran = append(ran, name)
			return nil
		}}
	}
	d := newFakeDeployer()
	d.fail["B"] = errors.New("reverted")
	task := Task{
		Name:      "t",
		Units:     []Unit{deployUnit("A"), deployUnit("B")},
		PostSetup: []SetupStep{step("useA", "A"), step("useB", "B"), step("useBoth", "A", "B"), step("again", "A")},
	}
	rep := execute(t, task, checkpoint.NewMemoryStore(), d)
	if !reflect.DeepEqual(ran, []string{"useA", "again"}) {
		t.Fatalf("ran=%v", ran)
	}
	if len(rep.SetupFailures) != 2 {
		t.Fatalf("setup failures=%v", rep.SetupFailures)
	}
	for _, f := range rep.SetupFailures {
		if f.Unit != PostSetupScope || !errors.Is(f.Err, ErrUnresolvedDependency) {
			t.Fatalf("unexpected setup failure %v", f)
		}
	}
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := deployUnit("A")
	a.PostDeploy = []Action{{Name: "interrupt", Apply: func(context.Context, ActionInput) error {
		cancel()
		return nil
	}}}
	d := newFakeDeployer()
	rep, err := Execute(ctx, Task{Name: "t", Units: []Unit{a, deployUnit("B")}}, ExecuteOptions{
		Env: testEnv, Constants: testConstants(), Store: checkpoint.NewMemoryStore(), Deployer: d,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rep == nil || !reflect.DeepEqual(rep.Result.Unresolved, []string{"B"}) {
		t.Fatalf("unexpected partial report: %+v", rep)
	}
}

func TestCancellationKeepsCompletedUnit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir, "CoreOutput")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	mgn := Unit{Name: "MGN", Factory: func(ctx context.Context, in FactoryInput) (Handle, error) {
		h, err := in.Deployer.Deploy(ctx, DeployRequest{Kind: "MGN"})
		cancel()
		return h, err
	}}
	rep, err := Execute(ctx, Task{Name: "core", Units: []Unit{mgn, deployUnit("B")}}, ExecuteOptions{
		Env: testEnv, Constants: testConstants(), Store: store, Deployer: newFakeDeployer(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rep == nil {
		t.Fatalf("expected a partial report")
	}
	for _, f := range rep.Failures() {
		if errors.Is(f.Err, ErrPersistFailed) {
			t.Fatalf("completed unit not persisted: %v", f)
		}
	}
	rec, ok, err := store.Peek(testEnv)
	if err != nil || !ok || rec["MGN"] == "" {
		t.Fatalf("checkpoint=%v ok=%v err=%v, want MGN recorded", rec, ok, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(store.Path(testEnv)) {
		t.Fatalf("unexpected files left behind: %v", entries)
	}
}

func TestObserversReceiveEvents(t *testing.T) {
	var types []EventType
	obs := ObserverFunc(func(ev Event) {
		if ev.RunID != "run-1" || ev.Task != "t" {
			t.Errorf("event missing run scope: %+v", ev)
		}
		types = append(types, ev.Type)
	})
	execute(t, Task{Name: "t", Units: []Unit{deployUnit("A")}}, checkpoint.NewMemoryStore(), newFakeDeployer(), func(o *ExecuteOptions) {
		o.RunID = "run-1"
		o.Observers = []Observer{obs}
	})
	want := []EventType{RunStarted, UnitDeployed, CheckpointSaved, RunCompleted}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events=%v want %v", types, want)
	}
}

func TestPrintReport(t *testing.T) {
	d := newFakeDeployer()
	d.fail["B"] = errors.New("execution reverted")
	rep := execute(t, Task{Name: "core", Units: []Unit{deployUnit("A"), deployUnit("B"), deployUnit("C", "B")}}, checkpoint.NewMemoryStore(), d)
	var buf bytes.Buffer
	if err := PrintReport(&buf, rep, false); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"DEPLOYED", "FAILED", "UNRESOLVED", "REVERTED", "blocks C"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
