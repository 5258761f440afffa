package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/mgnctl/internal/envconfig"
)

type fakeHandle struct {
	id   string
	kind string

	mu    sync.Mutex
	calls []Call
}

func (h *fakeHandle) ID() string   { return h.id }
func (h *fakeHandle) Kind() string { return h.kind }

func (h *fakeHandle) Invoke(_ context.Context, call Call) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return nil
}

func (h *fakeHandle) Query(context.Context, string, ...any) ([]any, error) {
	return nil, nil
}

type fakeDeployer struct {
	mu      sync.Mutex
	next    int
	deploys []string
	binds   []string
	fail    map[string]error
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{fail: map[string]error{}}
}

func (d *fakeDeployer) Deploy(_ context.Context, req DeployRequest) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[req.Kind]; err != nil {
		return nil, err
	}
	d.next++
	d.deploys = append(d.deploys, req.Kind)
	return &fakeHandle{id: fmt.Sprintf("0x%040x", d.next), kind: req.Kind}, nil
}

func (d *fakeDeployer) Bind(_ context.Context, kind string, id string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binds = append(d.binds, kind)
	return &fakeHandle{id: id, kind: kind}, nil
}

func (d *fakeDeployer) deployed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deploys...)
}

// deployUnit returns a unit whose factory deploys its own kind.
func deployUnit(name string, needs ...string) Unit {
	return Unit{
		Name:  name,
		Needs: needs,
		Factory: func(ctx context.Context, in FactoryInput) (Handle, error) {
			return in.Deployer.Deploy(ctx, DeployRequest{Kind: name})
		},
	}
}

const testEnv = "31337"

func testConstants() envconfig.StaticProvider {
	return envconfig.StaticProvider{
		testEnv: {Team: "0x00000000000000000000000000000000000000aa"},
	}
}
