// main.go bootstraps mgnctl: it builds the root Cobra command, binds flags to
// MGNCTL_* environment variables and config files, and executes with a
// signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/mgnctl/internal/checkpoint"
	"github.com/example/mgnctl/internal/depgraph"
	"github.com/example/mgnctl/internal/envconfig"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := newRootOptions()
	cmd := &cobra.Command{
		Use:           "mgnctl",
		Short:         "Resumable deployment orchestrator for the Magnetar protocol",
		Long:          "mgnctl deploys the Magnetar contracts in dependency order, records every address in a per-chain checkpoint and resumes from it after a failure.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(opts.dotEnv)
		},
	}
	opts.bindPersistent(cmd.PersistentFlags())

	deployCmd := newDeployCommand(opts)
	wrapCmd := newWrapNativeCommand(opts)
	statusCmd := newStatusCommand(opts)
	graphCmd := newGraphCommand()
	runsCmd := newRunsCommand(opts)
	cmd.AddCommand(deployCmd, wrapCmd, statusCmd, graphCmd, runsCmd, newVersionCommand())
	cmd.Example = `  # Deploy the core protocol to Monad testnet, resuming from any earlier run
  mgnctl deploy core --network monadTestnet

  # Redeploy only the router against the recorded core contracts
  mgnctl deploy router --network monadTestnet --redeploy router

  # Show what has been recorded for a chain
  mgnctl status core --chain-id 10143`

	commands := []*cobra.Command{cmd, wrapCmd, statusCmd, runsCmd}
	commands = append(commands, deployCmd)
	commands = append(commands, deployCmd.Commands()...)
	bindViper(commands...)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("MGNCTL")
	v.AutomaticEnv()
	configFile := os.Getenv("MGNCTL_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, errUnresolvedUnits):
		message = fmt.Sprintf("%s\nHint: fix the reported failures and rerun the same command; recorded units are not redeployed.", err)
	case errors.Is(err, checkpoint.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: increase --unit-timeout, --action-timeout or --write-timeout, or verify connectivity to the RPC endpoint.", err)
	case errors.Is(err, envconfig.ErrUnknownEnvironment):
		message = fmt.Sprintf("%s\nHint: add an entry keyed by the chain id to the values document (--values).", err)
	case errors.Is(err, depgraph.ErrCycleDetected), errors.Is(err, depgraph.ErrUnknownDependency):
		message = fmt.Sprintf("%s\nHint: the unit graph is invalid; nothing was deployed.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	add(".mgnctl")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "mgnctl"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "mgnctl"))
		add(filepath.Join(home, ".mgnctl"))
	}
	return dirs
}

// loadDotEnv exports KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func loadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}
