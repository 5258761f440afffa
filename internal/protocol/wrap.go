package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/engine"
)

// DefaultWrapValue is 0.003 native tokens in wei.
var DefaultWrapValue = big.NewInt(3_000_000_000_000_000)

// WrapNative deposits value into the wrapped native token recorded by the
// wrapped-native task for env. A positive timeout bounds binding and the
// deposit together.
func WrapNative(ctx context.Context, d engine.Deployer, store checkpoint.Store, env string, value *big.Int, timeout time.Duration, log logr.Logger) (engine.Handle, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, errors.New("wrap value must be positive")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	h, err := wrapNative(ctx, d, store, env, value)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: wrap native after %s: %w", engine.ErrTimeout, timeout, err)
		}
		return nil, err
	}
	log.Info("wrapped native currency", "weth", h.ID(), "wei", value.String())
	return h, nil
}

func wrapNative(ctx context.Context, d engine.Deployer, store checkpoint.Store, env string, value *big.Int) (engine.Handle, error) {
	rec, err := store.Load(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("load %s checkpoint: %w", WrappedNativePrefix, err)
	}
	if !checkpoint.Has(rec, "weth") {
		return nil, fmt.Errorf("%w: weth is not deployed for environment %s (run deploy %s first)", engine.ErrUnresolvedDependency, env, TaskWrappedNative)
	}
	h, err := d.Bind(ctx, "WETH", rec["weth"])
	if err != nil {
		return nil, err
	}
	if err := h.Invoke(ctx, engine.Call{Method: "deposit", Value: value}); err != nil {
		return nil, err
	}
	return h, nil
}
