package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/node"
)

var version = "0.1.0-dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		network    string
		dataDir    string
		logLevel   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "mvsd",
		Short: "Metaverse full node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := node.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if network != "" {
				cfg.Network = network
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}

			log, err := node.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			n, err := node.Open(cfg, log)
			if err != nil {
				return err
			}
			if err := n.Start(); err != nil {
				_ = n.Close()
				return err
			}
			log.Info("node started",
				zap.String("network", cfg.Network),
				zap.String("data_dir", cfg.DataDir))

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Info("shutting down")
			return n.Close()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	cmd.PersistentFlags().StringVar(&network, "network", "", "mainnet, testnet or regtest")
	cmd.PersistentFlags().StringVar(&dataDir, "datadir", "", "store directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "prometheus listen address")

	cmd.AddCommand(versionCmd(), validateConfigCmd(&configPath))
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the node version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mvsd", version)
		},
	}
}

func validateConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Check a configuration file without starting the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := node.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := node.ValidateConfig(cfg); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
}
