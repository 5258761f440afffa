// File: internal/engine/errors.go
// Brief: Failure taxonomy and error classification for run reporting.

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/depgraph"
	"github.com/example/mgnctl/internal/envconfig"
)

var (
	ErrFactoryFailed        = errors.New("factory failed")
	ErrPersistFailed        = errors.New("checkpoint persist failed")
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrTimeout is shared with the checkpoint store so callers match one sentinel.
	ErrTimeout = checkpoint.ErrTimeout
)

// Failure is a caught, reported, non-fatal error scoped to a unit or step.
type Failure struct {
	Unit string
	// Action is empty when the unit itself failed.
	Action string
	Err    error
}

func (f Failure) Error() string {
	if f.Action == "" {
		return fmt.Sprintf("%s: %v", f.Unit, f.Err)
	}
	return fmt.Sprintf("%s/%s: %v", f.Unit, f.Action, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ErrorClass buckets an error for events and summaries.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, ErrUnresolvedDependency):
		return "UNRESOLVED_DEPENDENCY"
	case errors.Is(err, ErrPersistFailed):
		return "PERSIST_FAILED"
	case errors.Is(err, depgraph.ErrCycleDetected):
		return "CYCLE_DETECTED"
	case errors.Is(err, depgraph.ErrUnknownDependency):
		return "UNKNOWN_DEPENDENCY"
	case errors.Is(err, envconfig.ErrUnknownEnvironment):
		return "UNKNOWN_ENVIRONMENT"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted") || strings.Contains(msg, "reverted"):
		return "REVERTED"
	case strings.Contains(msg, "insufficient funds"):
		return "INSUFFICIENT_FUNDS"
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced"):
		return "NONCE"
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return "RATE_LIMIT"
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return "TRANSPORT"
	case errors.Is(err, ErrFactoryFailed):
		return "FACTORY_FAILED"
	default:
		return "OTHER"
	}
}
