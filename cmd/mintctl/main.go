package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mint-confirm-service/internal/app"
)

var (
	configPath string
	deps       *app.Deps
)

var rootCmd = &cobra.Command{
	Use:   "mintctl",
	Short: "Recover and inspect pending mint payment confirmations",
	Long: `mintctl drives mint confirmation recovery against the local pending store.

A record is kept for every mint payment that was sent on-chain but not yet
confirmed by the backend. "confirm" retries one order with backoff, "flush"
gives every stored record a single attempt.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		deps, err = app.Bootstrap(configPath)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mintconfirm.yaml", "path to config file")
	rootCmd.AddCommand(confirmCmd(), flushCmd(), listCmd(), clearCmd(), startCmd())
}

// execute runs the command line and releases deps whether or not the command
// failed.
func execute(args []string) error {
	rootCmd.SetArgs(args)
	defer func() {
		if deps != nil {
			_ = deps.Close()
		}
	}()
	return rootCmd.Execute()
}

func main() {
	if err := execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
