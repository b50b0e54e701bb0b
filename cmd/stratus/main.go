package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stratus-network/core"
	"stratus-network/pkg/config"
)

// Exit codes: 0 normal shutdown, 1 configuration error, 2 storage
// corruption, 3 network bind failure.
const (
	exitOK      = 0
	exitConfig  = 1
	exitStorage = 2
	exitNetwork = 3
)

func main() {
	var (
		configPath  string
		genesisPath string
	)

	rootCmd := &cobra.Command{
		Use:   "stratus",
		Short: "Stratus Network node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(configPath, genesisPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./devtools/chain/config.toml", "node configuration file")
	rootCmd.PersistentFlags().StringVarP(&genesisPath, "genesis", "g", "./devtools/chain/genesis.json", "genesis file")

	initCmd := &cobra.Command{
		Use:   "init [genesis.json]",
		Short: "create the genesis state and block 0",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := genesisPath
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(configPath, path)
		},
	}
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func runInit(configPath, genesisPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if err := core.InitChain(cfg, genesisPath); err != nil {
		return err
	}
	fmt.Println("genesis created")
	return nil
}

func runNode(configPath, genesisPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	runner, err := core.NewNodeRunner(cfg, genesisPath)
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx)
}

// exitCodeFor maps the protocol error taxonomy onto process exit codes.
func exitCodeFor(err error) int {
	var pe *core.ProtocolError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case core.KindStorage:
			return exitStorage
		case core.KindNetwork:
			return exitNetwork
		}
	}
	return exitConfig
}
