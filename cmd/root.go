package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/pkg/common"
	"github.com/opsrun/opsrun/pkg/config"
)

var (
	configFile string
	cfg        *config.Config
)

// LoadConfig loads the engine configuration, preferring the explicit
// --config path and falling back to ./opsrun.yaml plus defaults.
var LoadConfig = func(configFile string) error {
	configPaths := []string{}
	if configFile != "" {
		configPaths = append(configPaths, configFile)
	}

	loaded, err := config.Load(configPaths...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := common.ApplyLoggingConfig(loaded.Logging); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

var RootCmd = &cobra.Command{
	Use:   "opsrun",
	Short: "Declarative configuration orchestration",
	Long:  `A lightweight configuration management tool that applies declarative playbooks to local and remote hosts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return LoadConfig(configFile)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default: ./opsrun.yaml)")
}
