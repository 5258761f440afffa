// File: internal/envconfig/networks.go
// Brief: Named network registry (RPC endpoint + chain id).

package envconfig

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Network identifies an RPC endpoint. ChainID 0 means the id is read from the node.
type Network struct {
	Name    string `yaml:"name"`
	RPCURL  string `yaml:"url"`
	ChainID uint64 `yaml:"chainId"`
	// Local networks skip the live-broadcast confirmation.
	Local bool `yaml:"local,omitempty"`
	// Testnet networks confirm with "yes"; any other live network requires
	// typing its chain id.
	Testnet bool `yaml:"testnet,omitempty"`
}

// Networks indexes networks by name.
type Networks map[string]Network

// DefaultNetworks mirrors the networks the protocol has been deployed to.
func DefaultNetworks() Networks {
	return Networks{
		"hardhat": {Name: "hardhat", RPCURL: "http://127.0.0.1:8545", ChainID: 31337, Local: true},
		// URL is expanded from TENDERLY_FORK_ID at lookup time.
		"tenderly":        {Name: "tenderly", RPCURL: "https://rpc.tenderly.co/fork/${TENDERLY_FORK_ID}", Testnet: true},
		"monadTestnet":    {Name: "monadTestnet", RPCURL: "https://testnet-rpc.monad.xyz", ChainID: 10143, Testnet: true},
		"fluentTestnet":   {Name: "fluentTestnet", RPCURL: "https://rpc.testnet.fluent.xyz/", ChainID: 20994, Testnet: true},
		"supraEvmTestnet": {Name: "supraEvmTestnet", RPCURL: "https://rpc-multivm.supra.com/rpc/v1/eth/wallet_integration", ChainID: 0x7900790079, Testnet: true},
		"zenchainTestnet": {Name: "zenchainTestnet", RPCURL: "https://zenchain-testnet.api.onfinality.io/public", ChainID: 8408, Testnet: true},
	}
}

// DefaultNetworkName is used when no network is selected.
const DefaultNetworkName = "tenderly"

// Lookup returns the named network with environment references in its URL expanded.
func (n Networks) Lookup(name string) (Network, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultNetworkName
	}
	net, ok := n[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(n.Names(), ", "))
	}
	net.Name = name
	net.RPCURL = os.ExpandEnv(net.RPCURL)
	if strings.Contains(net.RPCURL, "//") && strings.HasSuffix(net.RPCURL, "/fork/") {
		return Network{}, fmt.Errorf("network %s: RPC URL is incomplete (is TENDERLY_FORK_ID set?)", name)
	}
	return net, nil
}

func (n Networks) Names() []string {
	out := make([]string, 0, len(n))
	for k := range n {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge returns a copy of n with entries from other replacing same-named ones.
func (n Networks) Merge(other Networks) Networks {
	out := Networks{}
	for k, v := range n {
		out[k] = v
	}
	for k, v := range other {
		if strings.TrimSpace(v.Name) == "" {
			v.Name = k
		}
		out[k] = v
	}
	return out
}

// LoadNetworksFile reads additional networks from a YAML document:
//
//	networks:
//	  anvil: { url: http://127.0.0.1:8545, chainId: 31337, local: true }
func LoadNetworksFile(path string) (Networks, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks %s: %w", path, err)
	}
	var doc struct {
		Networks map[string]Network `yaml:"networks"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse networks %s: %w", path, err)
	}
	out := Networks{}
	for k, v := range doc.Networks {
		if strings.TrimSpace(v.RPCURL) == "" {
			return nil, fmt.Errorf("network %s: url is required", k)
		}
		v.Name = k
		out[k] = v
	}
	return out, nil
}

// EnvironmentKey renders a chain id the way checkpoint and values documents key it.
func EnvironmentKey(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
