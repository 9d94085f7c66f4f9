package cmd

import (
	"fmt"

	"github.com/brogergvhs/wxstrip/internal/config"

	"github.com/spf13/cobra"
)

var addSwitch bool

var configAddCmd = &cobra.Command{
	Use:   "add <label>",
	Short: "Add a new config profile with default values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.DefaultStore()
		label := args[0]

		path, err := store.Create(label, config.DefaultConfig())
		if err != nil {
			return err
		}
		fmt.Println("Created config:", path)

		if addSwitch {
			if err := store.Switch(label); err != nil {
				return err
			}
			fmt.Println("Switched to:", label)
		}
		return nil
	},
}

func init() {
	configAddCmd.Flags().BoolVar(&addSwitch, "switch", false, "make the new profile active")
	configCmd.AddCommand(configAddCmd)
}
