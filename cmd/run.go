package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/common"
	_ "github.com/opsrun/opsrun/pkg/modules" // Register modules
)

var (
	inventoryFile string
	extraVars     []string
	limitHost     string
	checkMode     bool
	forksOverride int
)

var runCmd = &cobra.Command{
	Use:   "run [playbook]",
	Short: "Apply a playbook against an inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		playbook, err := pkg.LoadPlaybook(args[0])
		if err != nil {
			return err
		}

		inventory := pkg.DefaultLocalhostInventory()
		if inventoryFile != "" {
			data, err := os.ReadFile(inventoryFile)
			if err != nil {
				return fmt.Errorf("failed to read inventory %s: %w", inventoryFile, err)
			}
			inventory, err = pkg.ParseInventory(data)
			if err != nil {
				return err
			}
		}

		vars, err := pkg.ParseExtraVars(extraVars)
		if err != nil {
			return err
		}

		if forksOverride > 0 {
			cfg.Forks = forksOverride
		}

		// A second interrupt kills the process; the first stops dispatching
		// new tasks and lets in-flight ones finish.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		executor := pkg.NewExecutor(cfg)
		results, err := executor.Run(ctx, &pkg.RunRequest{
			Playbook:  playbook,
			Inventory: inventory,
			ExtraVars: vars,
			Limit:     limitHost,
			Check:     checkMode,
		})
		if err != nil {
			return err
		}
		if results.Failed() {
			common.LogError("Run failed", map[string]interface{}{"playbook": playbook.Path})
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&inventoryFile, "inventory", "i", "", "Inventory file (default: implicit localhost)")
	runCmd.Flags().StringArrayVarP(&extraVars, "extra-vars", "e", nil, "Extra variables as key=value (highest precedence, repeatable)")
	runCmd.Flags().StringVarP(&limitHost, "limit", "l", "", "Limit execution to a single named host")
	runCmd.Flags().BoolVar(&checkMode, "check", false, "Report changes without applying them")
	runCmd.Flags().IntVar(&forksOverride, "forks", 0, "Maximum concurrent host streams (overrides config)")

	RootCmd.AddCommand(runCmd)
}
