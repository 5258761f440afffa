package protocol

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/mgnctl/internal/engine"
)

// SetAddressIfDifferent reads getter and calls setter(want) only when the
// current value differs. Role setters on these contracts can only be called
// by the current holder, so a blind re-run after a partial post-setup would
// revert. It reports whether a transaction was sent.
func SetAddressIfDifferent(ctx context.Context, h engine.Handle, getter, setter string, want common.Address) (bool, error) {
	out, err := h.Query(ctx, getter)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", getter, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("read %s: expected one value, got %d", getter, len(out))
	}
	current, ok := out[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("read %s: expected address, got %T", getter, out[0])
	}
	if current == want {
		return false, nil
	}
	if err := h.Invoke(ctx, engine.Call{Method: setter, Args: []any{want}}); err != nil {
		return false, err
	}
	return true, nil
}

// guardedStep declares a post-setup step assigning an address role on unit.
func guardedStep(unit, getter, setter string, want func(in engine.SetupInput) (common.Address, error), extraNeeds ...string) engine.SetupStep {
	return engine.SetupStep{
		Name:  unit + "." + setter,
		Needs: append([]string{unit}, extraNeeds...),
		Apply: func(ctx context.Context, in engine.SetupInput) error {
			addr, err := want(in)
			if err != nil {
				return err
			}
			_, err = SetAddressIfDifferent(ctx, in.Handles[unit], getter, setter, addr)
			return err
		},
	}
}

func team(in engine.SetupInput) (common.Address, error) {
	return configured("team", in.Run.Constants.Team)
}

func emergencyCouncil(in engine.SetupInput) (common.Address, error) {
	return configured("emergencyCouncil", in.Run.Constants.EmergencyCouncil)
}

func feeManager(in engine.SetupInput) (common.Address, error) {
	return configured("feeManager", in.Run.Constants.FeeManager)
}

func handleAddress(name string) func(in engine.SetupInput) (common.Address, error) {
	return func(in engine.SetupInput) (common.Address, error) {
		h, ok := in.Handles[name]
		if !ok {
			return common.Address{}, fmt.Errorf("%w: %s", engine.ErrUnresolvedDependency, name)
		}
		return Address(h), nil
	}
}
