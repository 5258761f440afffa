// File: cmd/mgnctl/options.go
// Brief: Persistent flags shared by every mgnctl command and the chain session built from them.

package main

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/mgnctl/internal/chain"
	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/envconfig"
	"github.com/example/mgnctl/internal/journal"
	"github.com/example/mgnctl/internal/logging"
)

const (
	defaultValuesPath = "script/constants/values.json"
	defaultOutputDir  = "script/constants/output"
	defaultArtifacts  = "artifacts"
)

type rootOptions struct {
	network      string
	chainID      uint64
	rpcURL       string
	privateKey   string
	networksFile string

	valuesPath   string
	artifactsDir string
	outputDir    string
	statePath    string
	dotEnv       string

	logLevel  string
	logFormat string

	unitTimeout   time.Duration
	actionTimeout time.Duration
	writeTimeout  time.Duration
	dialTimeout   time.Duration

	yes            bool
	nonInteractive bool
}

func newRootOptions() *rootOptions {
	return &rootOptions{
		network:      envconfig.DefaultNetworkName,
		valuesPath:   defaultValuesPath,
		artifactsDir: defaultArtifacts,
		outputDir:    defaultOutputDir,
		statePath:    journal.DefaultPath,
		dotEnv:       ".env",
		logLevel:     "info",
		logFormat:    "console",
		unitTimeout:  engine.DefaultUnitTimeout,
		writeTimeout: checkpoint.DefaultWriteTimeout,
		dialTimeout:  chain.DefaultDialTimeout,
	}
}

func (o *rootOptions) bindPersistent(fs *pflag.FlagSet) {
	fs.StringVar(&o.network, "network", o.network, "Named network to deploy to (see --networks-file)")
	fs.Uint64Var(&o.chainID, "chain-id", 0, "Expected chain id; also selects the environment for offline commands")
	fs.StringVar(&o.rpcURL, "rpc-url", "", "RPC endpoint overriding the selected network's URL")
	fs.StringVar(&o.privateKey, "private-key", "", "Hex private key of the deploying account (falls back to PRIVATE_KEY)")
	fs.StringVar(&o.networksFile, "networks-file", "", "YAML file adding or overriding named networks")
	fs.StringVar(&o.valuesPath, "values", o.valuesPath, "Per-chain constants document (JSON or YAML)")
	fs.StringVar(&o.artifactsDir, "artifacts", o.artifactsDir, "Directory holding compiled contract artifacts")
	fs.StringVar(&o.outputDir, "output-dir", o.outputDir, "Directory for per-chain checkpoint documents")
	fs.StringVar(&o.statePath, "state", o.statePath, "Run journal database path")
	fs.StringVar(&o.dotEnv, "env-file", o.dotEnv, "Dotenv file loaded before running (existing variables win)")
	fs.StringVar(&o.logLevel, "log-level", o.logLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", o.logFormat, "Log format: console or json")
	fs.DurationVar(&o.unitTimeout, "unit-timeout", o.unitTimeout, "Upper bound for deploying a single unit")
	fs.DurationVar(&o.actionTimeout, "action-timeout", 0, "Upper bound for binding a recorded unit or running one follow-up call (0 uses --unit-timeout)")
	fs.DurationVar(&o.writeTimeout, "write-timeout", o.writeTimeout, "Upper bound for persisting a checkpoint")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", o.dialTimeout, "Upper bound for connecting to the RPC endpoint")
	fs.BoolVarP(&o.yes, "yes", "y", false, "Broadcast without the confirmation prompt")
	fs.BoolVar(&o.nonInteractive, "non-interactive", false, "Never prompt (requires --yes for live networks)")
}

// effectiveActionTimeout is --action-timeout, or --unit-timeout when unset.
func (o *rootOptions) effectiveActionTimeout() time.Duration {
	if o.actionTimeout > 0 {
		return o.actionTimeout
	}
	return o.unitTimeout
}

func (o *rootOptions) logger(cmd *cobra.Command) (logr.Logger, error) {
	return logging.NewWithOptions(logging.Options{
		Level:  o.logLevel,
		Format: o.logFormat,
		Output: cmd.ErrOrStderr(),
	})
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if expanded, err := homedir.Expand(path); err == nil {
		return expanded
	}
	return path
}

func (o *rootOptions) networks() (envconfig.Networks, error) {
	nets := envconfig.DefaultNetworks()
	if path := expandPath(o.networksFile); path != "" {
		extra, err := envconfig.LoadNetworksFile(path)
		if err != nil {
			return nil, err
		}
		nets = nets.Merge(extra)
	}
	return nets, nil
}

// resolveNetwork picks the endpoint to talk to. --rpc-url wins over the named
// network; --chain-id pins the id the node must report.
func (o *rootOptions) resolveNetwork() (envconfig.Network, error) {
	if raw := strings.TrimSpace(o.rpcURL); raw != "" {
		name := strings.TrimSpace(o.network)
		if name == "" || name == envconfig.DefaultNetworkName {
			name = "custom"
		}
		net := envconfig.Network{Name: name, RPCURL: raw, ChainID: o.chainID, Local: isLoopbackURL(raw)}
		// An overridden URL keeps the named network's testnet marking.
		if nets, err := o.networks(); err == nil {
			net.Testnet = nets[name].Testnet
		}
		return net, nil
	}
	nets, err := o.networks()
	if err != nil {
		return envconfig.Network{}, err
	}
	net, err := nets.Lookup(o.network)
	if err != nil {
		return envconfig.Network{}, err
	}
	if o.chainID != 0 {
		if net.ChainID != 0 && net.ChainID != o.chainID {
			return envconfig.Network{}, fmt.Errorf("network %s is chain %d, not --chain-id %d", net.Name, net.ChainID, o.chainID)
		}
		net.ChainID = o.chainID
	}
	return net, nil
}

// offlineEnvironment returns the environment key for commands that do not
// dial the node.
func (o *rootOptions) offlineEnvironment() (string, error) {
	if o.chainID != 0 {
		return envconfig.EnvironmentKey(o.chainID), nil
	}
	net, err := o.resolveNetwork()
	if err != nil {
		return "", err
	}
	if net.ChainID == 0 {
		return "", fmt.Errorf("network %s has no fixed chain id; pass --chain-id", net.Name)
	}
	return envconfig.EnvironmentKey(net.ChainID), nil
}

func (o *rootOptions) privateKeyHex() (string, error) {
	key := strings.TrimSpace(o.privateKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("PRIVATE_KEY"))
	}
	if key == "" {
		return "", fmt.Errorf("deployer key is required (--private-key, MGNCTL_PRIVATE_KEY or PRIVATE_KEY)")
	}
	return key, nil
}

func (o *rootOptions) checkpointStore(prefix string) (*checkpoint.FileStore, error) {
	store, err := checkpoint.NewFileStore(expandPath(o.outputDir), prefix)
	if err != nil {
		return nil, err
	}
	if o.writeTimeout > 0 {
		store.WriteTimeout = o.writeTimeout
	}
	return store, nil
}

// session is a dialed node plus the signer deploying to it.
type session struct {
	network  envconfig.Network
	env      string
	chainID  *big.Int
	client   *ethclient.Client
	deployer *chain.EthDeployer
	log      logr.Logger
}

func (s *session) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

func (o *rootOptions) connect(ctx context.Context, log logr.Logger) (*session, error) {
	net, err := o.resolveNetwork()
	if err != nil {
		return nil, err
	}
	keyHex, err := o.privateKeyHex()
	if err != nil {
		return nil, err
	}
	key, from, err := chain.ParsePrivateKey(keyHex)
	if err != nil {
		return nil, err
	}
	client, chainID, err := chain.Dial(ctx, net.RPCURL, o.dialTimeout)
	if err != nil {
		return nil, err
	}
	if net.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != net.ChainID) {
		client.Close()
		return nil, fmt.Errorf("network %s: node reports chain %s, expected %d", net.Name, chainID, net.ChainID)
	}
	deployer, err := chain.NewEthDeployer(client, key, chainID, chain.NewArtifacts(expandPath(o.artifactsDir)), log)
	if err != nil {
		client.Close()
		return nil, err
	}
	env := chainID.String()
	if chainID.IsUint64() {
		env = envconfig.EnvironmentKey(chainID.Uint64())
	}
	log.Info("connected", "network", net.Name, "chainId", chainID.String(), "from", from.Hex())
	return &session{
		network:  net,
		env:      env,
		chainID:  chainID,
		client:   client,
		deployer: deployer,
		log:      log,
	}, nil
}

// confirmBroadcast asks before sending transactions to a non-local network.
func (o *rootOptions) confirmBroadcast(cmd *cobra.Command, s *session, what string) error {
	if s.network.Local {
		return nil
	}
	dec, err := approvalMode(cmd, o.yes, o.nonInteractive)
	if err != nil {
		return err
	}
	prompt, mode, expected := broadcastConfirmation(s.network, s.chainID, what, s.deployer.From().Hex())
	return confirmAction(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr(), dec, prompt, mode, expected)
}

// broadcastConfirmation asks for "yes" on testnets and for the chain id
// itself everywhere else.
func broadcastConfirmation(net envconfig.Network, chainID *big.Int, what, from string) (string, confirmMode, string) {
	target := fmt.Sprintf("%s on %s (chain %s) from %s.", what, net.Name, chainID, from)
	if net.Testnet {
		return target + " Type 'yes' to continue:", confirmModeYes, ""
	}
	return target + " This is not a known testnet; type the chain id to continue:", confirmModeExact, chainID.String()
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
