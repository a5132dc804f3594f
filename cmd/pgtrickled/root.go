package main

import (
	"github.com/spf13/cobra"

	"github.com/pgtrickle/pgtrickle/internal/config"
)

var (
	configPath  string
	development bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgtrickled",
		Short: "pgtrickle stream table refresh daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a pgtrickle config file")
	root.PersistentFlags().BoolVar(&development, "dev", false, "use development (console) logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newRefreshCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
