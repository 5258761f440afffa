// File: cmd/mgnctl/wrap.go
// Brief: `mgnctl wrap-native`: deposit native currency into the recorded WETH contract.

package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/mgnctl/internal/protocol"
)

func newWrapNativeCommand(root *rootOptions) *cobra.Command {
	value := protocol.DefaultWrapValue.String()
	cmd := &cobra.Command{
		Use:   "wrap-native",
		Short: "Wrap native currency through the deployed WETH contract",
		Long:  "Calls deposit on the wrapped native token recorded by `mgnctl deploy " + protocol.TaskWrappedNative + "` for the target chain.\n\n" + wethLayoutNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wei, err := parseWei(value)
			if err != nil {
				return err
			}
			log, err := root.logger(cmd)
			if err != nil {
				return err
			}
			s, err := root.connect(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer s.Close()
			store, err := root.checkpointStore(protocol.WrappedNativePrefix)
			if err != nil {
				return err
			}
			if err := root.confirmBroadcast(cmd, s, fmt.Sprintf("Wrap %s wei", wei)); err != nil {
				return err
			}
			h, err := protocol.WrapNative(cmd.Context(), s.deployer, store, s.env, wei, root.effectiveActionTimeout(), log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrapped %s wei into %s\n", wei, h.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", value, "Amount to wrap, in wei")
	return cmd
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid --value %q (expected an integer amount of wei)", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("--value must be positive, got %s", v)
	}
	return v, nil
}
