// File: internal/protocol/units.go
// Brief: Helpers for declaring contract units and calls.

// Package protocol declares the Magnetar deployment graphs: which contracts
// exist, what they are constructed from and how they are wired together.
package protocol

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/mgnctl/internal/engine"
)

type argsFunc func(in engine.FactoryInput) ([]any, error)

// contract declares a unit deploying artifact kind. links maps library
// artifact names to the units that provide them; those units are added to
// the unit's needs.
func contract(name, kind string, needs []string, links map[string]string, args argsFunc, post ...engine.Action) engine.Unit {
	all := append([]string(nil), needs...)
	for _, unit := range sortedValues(links) {
		if !slices.Contains(all, unit) {
			all = append(all, unit)
		}
	}
	return engine.Unit{
		Name:  name,
		Kind:  kind,
		Needs: all,
		Factory: func(ctx context.Context, in engine.FactoryInput) (engine.Handle, error) {
			var ctorArgs []any
			if args != nil {
				var err error
				if ctorArgs, err = args(in); err != nil {
					return nil, err
				}
			}
			var libs map[string]string
			if len(links) > 0 {
				libs = make(map[string]string, len(links))
				for lib, unit := range links {
					libs[lib] = in.Deps[unit].ID()
				}
			}
			return in.Deployer.Deploy(ctx, engine.DeployRequest{Kind: kind, Args: ctorArgs, Libraries: libs})
		},
		PostDeploy: post,
	}
}

// bindOnly declares a unit that is only rehydrated from a checkpoint.
func bindOnly(name, kind string) engine.Unit {
	return engine.Unit{Name: name, Kind: kind}
}

// addressesOf returns the deployed addresses of the named dependencies as constructor args.
func addressesOf(names ...string) argsFunc {
	return func(in engine.FactoryInput) ([]any, error) {
		out := make([]any, 0, len(names))
		for _, n := range names {
			h, ok := in.Deps[n]
			if !ok {
				return nil, fmt.Errorf("%s: dependency %s not provided", in.Unit, n)
			}
			out = append(out, Address(h))
		}
		return out, nil
	}
}

// Address returns the contract address behind a handle.
func Address(h engine.Handle) common.Address {
	return common.HexToAddress(h.ID())
}

// invoke returns a post-deploy action calling method on the new contract.
func invoke(method string, args func(in engine.ActionInput) ([]any, error)) engine.Action {
	return engine.Action{Name: method, Apply: func(ctx context.Context, in engine.ActionInput) error {
		callArgs, err := args(in)
		if err != nil {
			return err
		}
		return in.Self.Invoke(ctx, engine.Call{Method: method, Args: callArgs})
	}}
}

// invokeOn returns a post-deploy action calling method on a dependency.
func invokeOn(target, method string, args func(in engine.ActionInput) ([]any, error)) engine.Action {
	return engine.Action{Name: target + "." + method, Apply: func(ctx context.Context, in engine.ActionInput) error {
		h, ok := in.Deps[target]
		if !ok {
			return fmt.Errorf("%w: %s", engine.ErrUnresolvedDependency, target)
		}
		callArgs, err := args(in)
		if err != nil {
			return err
		}
		return h.Invoke(ctx, engine.Call{Method: method, Args: callArgs})
	}}
}

// configured parses an address from the environment constants.
func configured(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is not configured for this environment", field)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

// wei parses a decimal integer constant.
func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("protocol: invalid integer constant " + s)
	}
	return v
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
