// File: internal/chain/deployer.go
// Brief: go-ethereum backed engine.Deployer and contract handles.

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/mgnctl/internal/engine"
)

// DefaultDialTimeout bounds dialing the RPC endpoint and reading its chain id.
const DefaultDialTimeout = 30 * time.Second

// Backend is the node surface the deployer needs. *ethclient.Client and the
// simulated backend client both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dial connects to url and reads the chain id, bounded by timeout.
func Dial(ctx context.Context, url string, timeout time.Duration) (*ethclient.Client, *big.Int, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dial rpc %s", redactURL(url))
	}
	id, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, nil, errors.Wrapf(err, "read chain id from %s", redactURL(url))
	}
	return client, id, nil
}

type EthDeployer struct {
	backend   Backend
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	artifacts *Artifacts
	log       logr.Logger
}

func NewEthDeployer(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, artifacts *Artifacts, log logr.Logger) (*EthDeployer, error) {
	if backend == nil || key == nil || chainID == nil || artifacts == nil {
		return nil, errors.New("chain deployer: backend, key, chain id and artifacts are required")
	}
	return &EthDeployer{
		backend:   backend,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:   new(big.Int).Set(chainID),
		artifacts: artifacts,
		log:       log,
	}, nil
}

// From is the deploying account.
func (d *EthDeployer) From() common.Address { return d.from }

func (d *EthDeployer) transactor(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(d.key, d.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "transactor")
	}
	opts.Context = ctx
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}
	return opts, nil
}

func (d *EthDeployer) Deploy(ctx context.Context, req engine.DeployRequest) (engine.Handle, error) {
	art, err := d.artifacts.Get(req.Kind)
	if err != nil {
		return nil, err
	}
	code, err := art.Link(req.Libraries)
	if err != nil {
		return nil, err
	}
	opts, err := d.transactor(ctx, nil)
	if err != nil {
		return nil, err
	}
	addr, tx, bound, err := bind.DeployContract(opts, art.ABI, code, d.backend, req.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "deploy %s", req.Kind)
	}
	d.log.V(1).Info("deployment submitted", "kind", req.Kind, "tx", tx.Hash().Hex(), "address", addr.Hex())
	// WaitDeployed also fails when the creation reverted and left no code.
	if _, err := bind.WaitDeployed(ctx, d.backend, tx); err != nil {
		return nil, errors.Wrapf(err, "wait for %s deployment %s", req.Kind, tx.Hash().Hex())
	}
	return &Contract{address: addr, kind: req.Kind, artifact: art, bound: bound, d: d}, nil
}

// Bind rehydrates a recorded contract. The address must hold code so a
// checkpoint from another chain is not silently trusted.
func (d *EthDeployer) Bind(ctx context.Context, kind string, id string) (engine.Handle, error) {
	if !common.IsHexAddress(id) {
		return nil, errors.Errorf("bind %s: invalid address %q", kind, id)
	}
	art, err := d.artifacts.Get(kind)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(id)
	code, err := d.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s: read code at %s", kind, addr.Hex())
	}
	if len(code) == 0 {
		return nil, errors.Errorf("bind %s: no contract code at %s", kind, addr.Hex())
	}
	bound := bind.NewBoundContract(addr, art.ABI, d.backend, d.backend, d.backend)
	return &Contract{address: addr, kind: kind, artifact: art, bound: bound, d: d}, nil
}

// Contract is an engine.Handle for a deployed contract.
type Contract struct {
	address  common.Address
	kind     string
	artifact *Artifact
	bound    *bind.BoundContract
	d        *EthDeployer
}

func (c *Contract) ID() string              { return c.address.Hex() }
func (c *Contract) Kind() string            { return c.kind }
func (c *Contract) Address() common.Address { return c.address }

// Invoke sends a transaction and waits for a successful receipt.
func (c *Contract) Invoke(ctx context.Context, call engine.Call) error {
	if _, ok := c.artifact.ABI.Methods[call.Method]; !ok {
		return errors.Errorf("%s has no method %s", c.kind, call.Method)
	}
	opts, err := c.d.transactor(ctx, call.Value)
	if err != nil {
		return err
	}
	tx, err := c.bound.Transact(opts, call.Method, call.Args...)
	if err != nil {
		return errors.Wrapf(err, "%s.%s", c.kind, call.Method)
	}
	receipt, err := bind.WaitMined(ctx, c.d.backend, tx)
	if err != nil {
		return errors.Wrapf(err, "%s.%s: wait for %s", c.kind, call.Method, tx.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Errorf("%s.%s: transaction %s reverted", c.kind, call.Method, tx.Hash().Hex())
	}
	c.d.log.V(1).Info("call confirmed", "contract", c.kind, "method", call.Method, "tx", tx.Hash().Hex(), "gasUsed", receipt.GasUsed)
	return nil
}

func (c *Contract) Query(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx, From: c.d.from}, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "%s.%s", c.kind, method)
	}
	return out, nil
}

// redactURL drops path and query, which commonly carry API keys.
func redactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "<rpc>"
	}
	host, _, _ := strings.Cut(rest, "/")
	return fmt.Sprintf("%s://%s", scheme, host)
}
