// Package main provides the afitness operator CLI for inspecting and driving
// the offline sync queue.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wzl2223096755/AFitness-sub001/internal/app"
	"github.com/wzl2223096755/AFitness-sub001/internal/config"
)

// Version is set at build time
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "afitness",
		Short: "Inspect and drive the AFitness offline sync queue",
		Long: `afitness operates on the same queue as the desktop service:
1. Queue training, nutrition and recovery mutations
2. List queued items and their status
3. Replay the queue against the backend
4. Retry or discard failed items`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to afitness.yaml")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of text")

	root.AddCommand(
		newEnqueueCmd(opts),
		newListCmd(opts),
		newStatusCmd(opts),
		newSyncCmd(opts),
		newRetryCmd(opts),
		newDiscardCmd(opts),
		newVersionCmd(),
	)
	return root
}

// openApp loads configuration and assembles the sync core without starting
// background work.
func (o *rootOptions) openApp() (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return app.New(cfg)
}
