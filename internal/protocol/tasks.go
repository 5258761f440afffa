// File: internal/protocol/tasks.go
// Brief: Router-only, stable token and wrapped native tasks plus the task registry.

package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/envconfig"
)

const (
	TaskRouter        = "router"
	TaskStableTokens  = "stable-tokens"
	TaskWrappedNative = "wrapped-native"

	StableTokensPrefix  = "StableERC20Output"
	WrappedNativePrefix = "WETH"
)

// Initial supply minted to the deployer by each stable token.
const stableMintValue = "100000000000000"

// Router redeploys only the router against core contracts recorded by the
// core task. It shares the core checkpoint.
func Router() engine.Task {
	return engine.Task{
		Name:             TaskRouter,
		CheckpointPrefix: CorePrefix,
		Units: []engine.Unit{
			bindOnly("factoryRegistry", "FactoryRegistry"),
			bindOnly("poolFactory", "PoolFactory"),
			bindOnly("voter", "Voter"),
			routerUnit(),
		},
	}
}

func StableTokens() engine.Task {
	stable := func(name, tokenName, symbol string) engine.Unit {
		return contract(name, "StableERC20", nil, nil, func(engine.FactoryInput) ([]any, error) {
			return []any{tokenName, symbol, wei(stableMintValue)}, nil
		})
	}
	return engine.Task{
		Name:             TaskStableTokens,
		CheckpointPrefix: StableTokensPrefix,
		Units: []engine.Unit{
			stable("usdc", "Magnetar Finance USD", "MGNUSD"),
			stable("usdt", "Magnetar Finance USD+", "MGNUSD+"),
		},
	}
}

// knownWrappedNative covers chains whose wrapped token details predate the
// values document.
var knownWrappedNative = map[string]envconfig.WrappedNative{
	"5124": {Name: "Wrapped Seismic", Symbol: "WSMIC"},
}

// WrappedNativeDetails returns the configured wrapped token for env, falling
// back to the built-in table.
func WrappedNativeDetails(env string, c envconfig.Constants) (envconfig.WrappedNative, error) {
	if c.WrappedNative != nil && strings.TrimSpace(c.WrappedNative.Name) != "" && strings.TrimSpace(c.WrappedNative.Symbol) != "" {
		return *c.WrappedNative, nil
	}
	if w, ok := knownWrappedNative[env]; ok {
		return w, nil
	}
	return envconfig.WrappedNative{}, fmt.Errorf("no wrapped native token details for environment %s (set wrappedNative in the values document)", env)
}

func WrappedNative() engine.Task {
	return engine.Task{
		Name:             TaskWrappedNative,
		CheckpointPrefix: WrappedNativePrefix,
		Units: []engine.Unit{
			contract("weth", "WETH", nil, nil, func(in engine.FactoryInput) ([]any, error) {
				w, err := WrappedNativeDetails(in.Run.Env, in.Run.Constants)
				if err != nil {
					return nil, err
				}
				return []any{w.Name, w.Symbol}, nil
			}),
		},
	}
}

// Tasks returns every deploy task by name.
func Tasks() map[string]engine.Task {
	return map[string]engine.Task{
		TaskCore:          Core(),
		TaskRouter:        Router(),
		TaskStableTokens:  StableTokens(),
		TaskWrappedNative: WrappedNative(),
	}
}

func TaskNames() []string {
	var out []string
	for name := range Tasks() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func TaskByName(name string) (engine.Task, error) {
	t, ok := Tasks()[strings.TrimSpace(name)]
	if !ok {
		return engine.Task{}, fmt.Errorf("unknown task %q (known: %s)", name, strings.Join(TaskNames(), ", "))
	}
	return t, nil
}
