// File: internal/protocol/core.go
// Brief: Core protocol graph: token, factories, escrow, voting and router.

package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/mgnctl/internal/engine"
)

const (
	TaskCore = "core"

	CorePrefix = "CoreOutput"
)

// Initial MGN supply minted to the team: 1e27 (1 billion tokens at 18 decimals).
const teamMintValue = "1000000000000000000000000000"

const defaultPoolFee = 1

// CoreUnits is the full core graph in declaration order.
func CoreUnits() []engine.Unit {
	return []engine.Unit{
		contract("MGN", "MGN", nil, nil, nil,
			invoke("mint", func(in engine.ActionInput) ([]any, error) {
				team, err := configured("team", in.Run.Constants.Team)
				if err != nil {
					return nil, err
				}
				return []any{team, wei(teamMintValue)}, nil
			}),
		),

		contract("poolImplementation", "Pool", nil, nil, nil),
		contract("poolFactory", "PoolFactory", []string{"poolImplementation"}, nil, addressesOf("poolImplementation"),
			setFee(true),
			setFee(false),
		),
		contract("votingRewardsFactory", "VotingRewardsFactory", nil, nil, nil),
		contract("gaugeFactory", "GaugeFactory", nil, nil, nil),
		contract("managedRewardsFactory", "ManagedRewardsFactory", nil, nil, nil),
		contract("factoryRegistry", "FactoryRegistry",
			[]string{"poolFactory", "votingRewardsFactory", "gaugeFactory", "managedRewardsFactory"}, nil,
			addressesOf("poolFactory", "votingRewardsFactory", "gaugeFactory", "managedRewardsFactory"),
		),

		contract("forwarder", "MGNForwarder", nil, nil, nil),
		contract("balanceLogicLibrary", "BalanceLogicLibrary", nil, nil, nil),
		contract("delegationLogicLibrary", "DelegationLogicLibrary", nil, nil, nil),
		contract("votingEscrow", "VotingEscrow", []string{"forwarder", "MGN", "factoryRegistry"},
			map[string]string{
				"BalanceLogicLibrary":    "balanceLogicLibrary",
				"DelegationLogicLibrary": "delegationLogicLibrary",
			},
			addressesOf("forwarder", "MGN", "factoryRegistry"),
		),

		contract("trig", "Trig", nil, nil, nil),
		contract("perlinNoise", "PerlinNoise", nil, nil, nil),
		contract("artProxy", "VeArtProxy", []string{"votingEscrow"},
			map[string]string{"Trig": "trig", "PerlinNoise": "perlinNoise"},
			addressesOf("votingEscrow"),
			invokeOn("votingEscrow", "setArtProxy", selfAddress),
		),

		contract("distributor", "RewardsDistributor", []string{"votingEscrow"}, nil, addressesOf("votingEscrow")),
		contract("voter", "Voter", []string{"forwarder", "votingEscrow", "factoryRegistry", "distributor"}, nil,
			addressesOf("forwarder", "votingEscrow", "factoryRegistry"),
			invokeOn("votingEscrow", "setVoterAndDistributor", func(in engine.ActionInput) ([]any, error) {
				return []any{Address(in.Self), Address(in.Deps["distributor"])}, nil
			}),
		),
		contract("minter", "Minter", []string{"voter", "votingEscrow", "distributor", "MGN"}, nil,
			addressesOf("voter", "votingEscrow", "distributor"),
			invokeOn("distributor", "setMinter", selfAddress),
			invokeOn("MGN", "setMinter", selfAddress),
			invokeOn("voter", "initialize", func(in engine.ActionInput) ([]any, error) {
				tokens, err := whitelist(in.Run.Constants.WhitelistTokens)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, Address(in.Deps["MGN"]))
				return []any{tokens, Address(in.Self)}, nil
			}),
		),

		routerUnit(),
	}
}

// CoreSetup hands protocol roles to the configured operators. Every step is
// guarded so a partially applied setup can be resumed.
func CoreSetup() []engine.SetupStep {
	return []engine.SetupStep{
		guardedStep("votingEscrow", "team", "setTeam", team),
		guardedStep("minter", "team", "setTeam", team),
		guardedStep("poolFactory", "pauser", "setPauser", team),
		guardedStep("voter", "emergencyCouncil", "setEmergencyCouncil", emergencyCouncil),
		guardedStep("voter", "epochGovernor", "setEpochGovernor", team),
		guardedStep("voter", "governor", "setGovernor", team),
		guardedStep("factoryRegistry", "owner", "transferOwnership", team),
		guardedStep("poolFactory", "feeManager", "setFeeManager", feeManager),
		guardedStep("poolFactory", "voter", "setVoter", handleAddress("voter"), "voter"),
	}
}

func Core() engine.Task {
	return engine.Task{
		Name:             TaskCore,
		CheckpointPrefix: CorePrefix,
		Units:            CoreUnits(),
		PostSetup:        CoreSetup(),
	}
}

func routerUnit() engine.Unit {
	return contract("router", "Router", []string{"factoryRegistry", "poolFactory", "voter"}, nil,
		func(in engine.FactoryInput) ([]any, error) {
			deps, err := addressesOf("factoryRegistry", "poolFactory", "voter")(in)
			if err != nil {
				return nil, err
			}
			weth, err := configured("WETH", in.Run.Constants.WETH)
			if err != nil {
				return nil, err
			}
			return append(deps, weth), nil
		},
	)
}

// setFee sets the default fee (in basis points) for stable or volatile pools.
func setFee(stable bool) engine.Action {
	name := "setFee(volatile)"
	if stable {
		name = "setFee(stable)"
	}
	return engine.Action{Name: name, Apply: func(ctx context.Context, in engine.ActionInput) error {
		return in.Self.Invoke(ctx, engine.Call{Method: "setFee", Args: []any{stable, big.NewInt(defaultPoolFee)}})
	}}
}

func selfAddress(in engine.ActionInput) ([]any, error) {
	return []any{Address(in.Self)}, nil
}

func whitelist(tokens []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(tokens)+1)
	for _, tok := range tokens {
		addr, err := configured("whitelistTokens", tok)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
