// File: internal/envconfig/constants.go
// Brief: Per-environment protocol constants loaded from the values document.

// Package envconfig resolves environment-scoped configuration: protocol
// constants keyed by chain id and the registry of known networks.
package envconfig

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"sigs.k8s.io/yaml"
)

// ErrUnknownEnvironment is returned when no configuration exists for an environment key.
var ErrUnknownEnvironment = errors.New("unknown environment")

// WrappedNative names the wrapped native token deployed on a chain.
type WrappedNative struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Constants are the protocol parameters for one environment.
type Constants struct {
	WhitelistTokens  []string       `json:"whitelistTokens"`
	Team             string         `json:"team"`
	EmergencyCouncil string         `json:"emergencyCouncil"`
	FeeManager       string         `json:"feeManager"`
	WETH             string         `json:"WETH"`
	WrappedNative    *WrappedNative `json:"wrappedNative,omitempty"`
}

// Validate checks that every configured address is well formed. Empty
// optional fields are allowed; tasks that need them fail on use.
func (c Constants) Validate() error {
	check := func(field, v string) error {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s: invalid address %q", field, v)
		}
		return nil
	}
	for _, f := range []struct{ name, v string }{
		{"team", c.Team},
		{"emergencyCouncil", c.EmergencyCouncil},
		{"feeManager", c.FeeManager},
		{"WETH", c.WETH},
	} {
		if err := check(f.name, f.v); err != nil {
			return err
		}
	}
	for i, tok := range c.WhitelistTokens {
		if err := check(fmt.Sprintf("whitelistTokens[%d]", i), tok); err != nil {
			return err
		}
	}
	return nil
}

// Provider resolves constants for an environment key.
type Provider interface {
	Constants(env string) (Constants, error)
}

// StaticProvider serves constants from an in-memory map.
type StaticProvider map[string]Constants

func (p StaticProvider) Constants(env string) (Constants, error) {
	c, ok := p[strings.TrimSpace(env)]
	if !ok {
		return Constants{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownEnvironment, env, strings.Join(p.Environments(), ", "))
	}
	// Callers may append to the whitelist; never hand out the shared backing array.
	c.WhitelistTokens = append([]string(nil), c.WhitelistTokens...)
	return c, nil
}

// Environments lists the configured keys, sorted.
func (p StaticProvider) Environments() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadValuesFile reads a values document mapping chain id to Constants. The
// document may be JSON or YAML.
func LoadValuesFile(path string) (StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read values %s: %w", path, err)
	}
	return ParseValues(raw)
}

func ParseValues(raw []byte) (StaticProvider, error) {
	doc := map[string]Constants{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse values: %w", err)
	}
	out := StaticProvider{}
	for env, c := range doc {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("values for %s: %w", env, err)
		}
		out[strings.TrimSpace(env)] = c
	}
	return out, nil
}
