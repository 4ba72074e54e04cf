package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarryhq/quarry/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage quarry configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file if none exists",
	Long: `Init writes a commented default configuration to ~/.quarry/config.yaml.
An existing file is never overwritten, so operator edits are safe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.EnsureDefault()
		if err != nil {
			return err
		}
		fmt.Printf("Config file: %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
