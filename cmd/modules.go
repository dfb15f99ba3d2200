package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/pkg"
	_ "github.com/opsrun/opsrun/pkg/modules" // Register modules
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the registered modules",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range pkg.RegisteredModuleNames() {
			fmt.Println(name)
		}
	},
}

func init() {
	RootCmd.AddCommand(modulesCmd)
}
