// File: internal/engine/types.go
// Brief: Unit descriptors and the deployer/handle contracts the engine drives.

package engine

import (
	"context"
	"math/big"
	"strings"

	"github.com/example/mgnctl/internal/envconfig"
)

// Handle is a live reference to a deployed artifact.
type Handle interface {
	// ID is the durable identifier recorded in the checkpoint (an address).
	ID() string
	Kind() string
	// Invoke sends a state-changing call and blocks until it is confirmed.
	Invoke(ctx context.Context, call Call) error
	// Query performs a read-only call and returns the decoded outputs.
	Query(ctx context.Context, method string, args ...any) ([]any, error)
}

type Call struct {
	Method string
	Args   []any
	// Value is attached native currency in wei; nil sends none.
	Value *big.Int
}

// DeployRequest asks the deployer for a new artifact of Kind.
type DeployRequest struct {
	Kind string
	Args []any
	// Libraries maps a linked library artifact name to its deployed address.
	Libraries map[string]string
}

// Deployer creates artifacts and rehydrates recorded ones.
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) (Handle, error)
	Bind(ctx context.Context, kind string, id string) (Handle, error)
}

// RunContext is resolved once per run and shared read-only with every factory
// and action.
type RunContext struct {
	Env       string
	Network   string
	Constants envconfig.Constants
}

// FactoryInput carries everything a factory may use. Deps holds exactly the
// handles named in the unit's Needs.
type FactoryInput struct {
	Unit     string
	Deps     map[string]Handle
	Run      RunContext
	Deployer Deployer
}

type Factory func(ctx context.Context, in FactoryInput) (Handle, error)

type ActionInput struct {
	Self Handle
	Deps map[string]Handle
	Run  RunContext
}

// Action is a post-deploy call made against a freshly produced handle.
type Action struct {
	Name  string
	Apply func(ctx context.Context, in ActionInput) error
}

// Unit describes one deployable artifact.
type Unit struct {
	Name string
	// Kind is the artifact name used to deploy and rehydrate. Defaults to Name.
	Kind  string
	Needs []string
	// Factory is nil for bind-only units, which are only ever rehydrated from
	// a checkpoint written by another task.
	Factory    Factory
	PostDeploy []Action
}

func (u Unit) NodeName() string    { return u.Name }
func (u Unit) NodeNeeds() []string { return u.Needs }

func (u Unit) KindOrName() string {
	if k := strings.TrimSpace(u.Kind); k != "" {
		return k
	}
	return u.Name
}

func (u Unit) BindOnly() bool { return u.Factory == nil }

// SetupStep is one entry of the post-setup phase. Needs names the handles the
// step reads; a step whose needs are not all available is skipped.
type SetupStep struct {
	Name  string
	Needs []string
	Apply func(ctx context.Context, in SetupInput) error
}

type SetupInput struct {
	Handles map[string]Handle
	Run     RunContext
}
