package main

import (
	"fmt"
	"os"

	"wallet-reconciler/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info (injected at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

// rootOptions are the flags every command shares.
type rootOptions struct {
	configFile string
	envFile    string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "walletd",
		Short:         "Multi-chain wallet reconciler",
		Long:          `walletd generates, imports and reconciles ETH, SOL and APTOS wallets against their chains and keeps them in one deduplicated store.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load WR_* variables from a dotenv file first")

	root.AddCommand(
		serveCmd(opts),
		correctCmd(opts),
		generateCmd(opts),
		importCmd(opts),
		reconcileCmd(opts),
		exportCmd(opts),
		hashKeyCmd(),
	)
	return root
}
