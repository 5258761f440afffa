package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/envconfig"
)

var setterGetter = map[string]string{
	"setTeam":             "team",
	"setPauser":           "pauser",
	"setEmergencyCouncil": "emergencyCouncil",
	"setEpochGovernor":    "epochGovernor",
	"setGovernor":         "governor",
	"transferOwnership":   "owner",
	"setFeeManager":       "feeManager",
	"setVoter":            "voter",
}

type fakeContract struct {
	addr string
	kind string
	req  engine.DeployRequest

	mu    sync.Mutex
	calls []engine.Call
	roles map[string]common.Address
}

func (c *fakeContract) ID() string   { return c.addr }
func (c *fakeContract) Kind() string { return c.kind }

func (c *fakeContract) Invoke(_ context.Context, call engine.Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if getter, ok := setterGetter[call.Method]; ok && len(call.Args) == 1 {
		if a, ok := call.Args[0].(common.Address); ok {
			c.roles[getter] = a
		}
	}
	return nil
}

func (c *fakeContract) Query(_ context.Context, method string, _ ...any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []any{c.roles[method]}, nil
}

func (c *fakeContract) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.Method)
	}
	return out
}

type fakeChain struct {
	mu        sync.Mutex
	next      int
	contracts map[string]*fakeContract
	deploys   []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{contracts: map[string]*fakeContract{}}
}

func (f *fakeChain) Deploy(_ context.Context, req engine.DeployRequest) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	c := &fakeContract{addr: common.BigToAddress(big.NewInt(int64(0x1000 + f.next))).Hex(), kind: req.Kind, req: req, roles: map[string]common.Address{}}
	f.contracts[c.addr] = c
	f.deploys = append(f.deploys, req.Kind)
	return c, nil
}

func (f *fakeChain) Bind(_ context.Context, kind string, id string) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contracts[id]
	if !ok || c.kind != kind {
		return nil, fmt.Errorf("no %s at %s", kind, id)
	}
	return c, nil
}

func (f *fakeChain) at(rec checkpoint.Record, unit string) *fakeContract {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contracts[rec[unit]]
}

const env = "10143"

var constants = envconfig.Constants{
	WhitelistTokens:  []string{"0x00000000000000000000000000000000000000e1"},
	Team:             "0x00000000000000000000000000000000000000aa",
	EmergencyCouncil: "0x00000000000000000000000000000000000000bb",
	FeeManager:       "0x00000000000000000000000000000000000000cc",
	WETH:             "0x00000000000000000000000000000000000000dd",
}

func run(t *testing.T, task engine.Task, store checkpoint.Store, chain *fakeChain, c envconfig.Constants) *engine.Report {
	t.Helper()
	rep, err := engine.Execute(context.Background(), task, engine.ExecuteOptions{
		Env:       env,
		Constants: envconfig.StaticProvider{env: c},
		Store:     store,
		Deployer:  chain,
		Log:       logr.Discard(),
	})
	if err != nil {
		t.Fatalf("execute %s: %v", task.Name, err)
	}
	return rep
}

func TestTaskGraphsResolve(t *testing.T) {
	for _, name := range TaskNames() {
		task, err := TaskByName(name)
		if err != nil {
			t.Fatalf("task %s: %v", name, err)
		}
		if _, _, err := engine.Plan(task); err != nil {
			t.Fatalf("plan %s: %v", name, err)
		}
	}
	if _, err := TaskByName("governance"); err == nil {
		t.Fatalf("expected unknown task error")
	}
}

func TestCoreOrder(t *testing.T) {
	ordered, _, err := engine.Plan(Core())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var got []string
	for _, u := range ordered {
		got = append(got, u.Name)
	}
	want := []string{
		"MGN", "poolImplementation", "poolFactory", "votingRewardsFactory", "gaugeFactory",
		"managedRewardsFactory", "factoryRegistry", "forwarder", "balanceLogicLibrary",
		"delegationLogicLibrary", "votingEscrow", "trig", "perlinNoise", "artProxy",
		"distributor", "voter", "minter", "router",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order=%v\nwant  %v", got, want)
	}
}

func TestCoreDeploysAndWires(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	chain := newFakeChain()
	rep := run(t, Core(), store, chain, constants)
	if !rep.Complete() {
		t.Fatalf("core incomplete: %v", rep.Failures())
	}
	rec := rep.Result.Record
	team := common.HexToAddress(constants.Team)

	mgn := chain.at(rec, "MGN")
	if mgn.calls[0].Method != "mint" || mgn.calls[0].Args[0] != team || mgn.calls[0].Args[1].(*big.Int).Cmp(wei(teamMintValue)) != 0 {
		t.Fatalf("mint call=%+v", mgn.calls[0])
	}
	if got := mgn.methods(); !reflect.DeepEqual(got, []string{"mint", "setMinter"}) {
		t.Fatalf("MGN calls=%v", got)
	}

	escrow := chain.at(rec, "votingEscrow")
	if got := escrow.req.Libraries; got["BalanceLogicLibrary"] != rec["balanceLogicLibrary"] || got["DelegationLogicLibrary"] != rec["delegationLogicLibrary"] {
		t.Fatalf("escrow libraries=%v", got)
	}
	if got := escrow.methods(); !reflect.DeepEqual(got, []string{"setArtProxy", "setVoterAndDistributor", "setTeam"}) {
		t.Fatalf("escrow calls=%v", got)
	}

	voter := chain.at(rec, "voter")
	var init engine.Call
	for _, c := range voter.calls {
		if c.Method == "initialize" {
			init = c
		}
	}
	tokens := init.Args[0].([]common.Address)
	if len(tokens) != 2 || tokens[1] != common.HexToAddress(rec["MGN"]) || init.Args[1] != common.HexToAddress(rec["minter"]) {
		t.Fatalf("voter.initialize args=%v", init.Args)
	}
	if voter.roles["emergencyCouncil"] != common.HexToAddress(constants.EmergencyCouncil) || voter.roles["governor"] != team {
		t.Fatalf("voter roles=%v", voter.roles)
	}

	pf := chain.at(rec, "poolFactory")
	if pf.roles["voter"] != common.HexToAddress(rec["voter"]) || pf.roles["feeManager"] != common.HexToAddress(constants.FeeManager) {
		t.Fatalf("pool factory roles=%v", pf.roles)
	}
	if chain.at(rec, "factoryRegistry").roles["owner"] != team {
		t.Fatalf("registry ownership not transferred")
	}

	router := chain.at(rec, "router")
	if got := router.req.Args; len(got) != 4 || got[3] != common.HexToAddress(constants.WETH) {
		t.Fatalf("router args=%v", got)
	}
}

func TestCoreRerunSkipsGuardedSetup(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	chain := newFakeChain()
	first := run(t, Core(), store, chain, constants)
	before := len(chain.at(first.Result.Record, "voter").methods())

	second := run(t, Core(), store, chain, constants)
	if len(second.Result.Deployed) != 0 {
		t.Fatalf("second run deployed %v", second.Result.Deployed)
	}
	if !second.Complete() {
		t.Fatalf("second run failures: %v", second.Failures())
	}
	if after := len(chain.at(second.Result.Record, "voter").methods()); after != before {
		t.Fatalf("voter received %d new calls on re-run", after-before)
	}
}

func TestCoreMissingTeamIsolatesFailures(t *testing.T) {
	c := constants
	c.Team = ""
	rep := run(t, Core(), checkpoint.NewMemoryStore(), newFakeChain(), c)
	if len(rep.Result.Unresolved) != 0 {
		t.Fatalf("units unresolved: %v", rep.Result.Unresolved)
	}
	var mint, setTeam bool
	for _, f := range rep.Failures() {
		switch {
		case f.Unit == "MGN" && f.Action == "mint":
			mint = true
		case f.Unit == engine.PostSetupScope && f.Action == "votingEscrow.setTeam":
			setTeam = true
		}
	}
	if !mint || !setTeam {
		t.Fatalf("expected mint and setTeam failures, got %v", rep.Failures())
	}
}

func TestRouterTaskUsesCoreCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	chain := newFakeChain()
	core := run(t, Core(), store, chain, constants)
	oldRouter := core.Result.Record["router"]

	rep, err := engine.Execute(context.Background(), Router(), engine.ExecuteOptions{
		Env:       env,
		Constants: envconfig.StaticProvider{env: constants},
		Store:     store,
		Deployer:  chain,
		Redeploy:  []string{"router"},
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if !reflect.DeepEqual(rep.Result.Deployed, []string{"router"}) {
		t.Fatalf("deployed=%v", rep.Result.Deployed)
	}
	if rep.Result.Record["router"] == oldRouter || rep.Result.Record["voter"] != core.Result.Record["voter"] {
		t.Fatalf("record=%v", rep.Result.Record)
	}
}

func TestRouterTaskWithoutCore(t *testing.T) {
	rep := run(t, Router(), checkpoint.NewMemoryStore(), newFakeChain(), constants)
	if !reflect.DeepEqual(rep.Result.Unresolved, []string{"factoryRegistry", "poolFactory", "voter", "router"}) {
		t.Fatalf("unresolved=%v", rep.Result.Unresolved)
	}
	if got := rep.Blocked["voter"]; !reflect.DeepEqual(got, []string{"router"}) {
		t.Fatalf("blocked=%v", rep.Blocked)
	}
}

func TestStableTokens(t *testing.T) {
	chain := newFakeChain()
	rep := run(t, StableTokens(), checkpoint.NewMemoryStore(), chain, constants)
	if !rep.Complete() {
		t.Fatalf("failures: %v", rep.Failures())
	}
	usdt := chain.at(rep.Result.Record, "usdt")
	if usdt.kind != "StableERC20" || usdt.req.Args[0] != "Magnetar Finance USD+" || usdt.req.Args[1] != "MGNUSD+" {
		t.Fatalf("usdt args=%v", usdt.req.Args)
	}
}

func TestWrappedNativeDetails(t *testing.T) {
	if w, err := WrappedNativeDetails("5124", envconfig.Constants{}); err != nil || w.Symbol != "WSMIC" {
		t.Fatalf("fallback=%v err=%v", w, err)
	}
	c := envconfig.Constants{WrappedNative: &envconfig.WrappedNative{Name: "Wrapped Monad", Symbol: "WMON"}}
	if w, err := WrappedNativeDetails(env, c); err != nil || w.Symbol != "WMON" {
		t.Fatalf("configured=%v err=%v", w, err)
	}
	if _, err := WrappedNativeDetails(env, envconfig.Constants{}); err == nil {
		t.Fatalf("expected error without details")
	}
}

func TestWrapNative(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	chain := newFakeChain()
	c := constants
	c.WrappedNative = &envconfig.WrappedNative{Name: "Wrapped Monad", Symbol: "WMON"}

	if _, err := WrapNative(context.Background(), chain, store, env, DefaultWrapValue, time.Minute, logr.Discard()); !errors.Is(err, engine.ErrUnresolvedDependency) {
		t.Fatalf("expected missing weth error, got %v", err)
	}
	rep := run(t, WrappedNative(), store, chain, c)
	if _, err := WrapNative(context.Background(), chain, store, env, DefaultWrapValue, time.Minute, logr.Discard()); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	weth := chain.at(rep.Result.Record, "weth")
	if len(weth.calls) != 1 || weth.calls[0].Method != "deposit" || weth.calls[0].Value.Cmp(big.NewInt(3e15)) != 0 {
		t.Fatalf("weth calls=%+v", weth.calls)
	}
}

// stalledChain binds handles that never answer until ctx ends.
type stalledChain struct{ *fakeChain }

func (s stalledChain) Bind(ctx context.Context, _ string, _ string) (engine.Handle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWrapNativeTimesOut(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	chain := newFakeChain()
	c := constants
	c.WrappedNative = &envconfig.WrappedNative{Name: "Wrapped Monad", Symbol: "WMON"}
	run(t, WrappedNative(), store, chain, c)

	done := make(chan error, 1)
	go func() {
		_, err := WrapNative(context.Background(), stalledChain{chain}, store, env, DefaultWrapValue, 20*time.Millisecond, logr.Discard())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, engine.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if engine.ErrorClass(err) != "TIMEOUT" {
			t.Fatalf("class=%s", engine.ErrorClass(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wrap did not honour its timeout")
	}
}

func TestSetAddressIfDifferent(t *testing.T) {
	c := &fakeContract{roles: map[string]common.Address{}}
	want := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sent, err := SetAddressIfDifferent(context.Background(), c, "team", "setTeam", want)
	if err != nil || !sent {
		t.Fatalf("first call sent=%v err=%v", sent, err)
	}
	sent, err = SetAddressIfDifferent(context.Background(), c, "team", "setTeam", want)
	if err != nil || sent {
		t.Fatalf("second call sent=%v err=%v", sent, err)
	}
	if len(c.calls) != 1 {
		t.Fatalf("calls=%v", c.calls)
	}
}
