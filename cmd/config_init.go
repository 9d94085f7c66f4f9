package cmd

import (
	"fmt"

	"github.com/brogergvhs/wxstrip/internal/config"

	"github.com/spf13/cobra"
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the Default config profile and make it active",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.DefaultStore()
		path, err := store.Create(config.DefaultLabel, config.DefaultConfig())
		if err != nil {
			return err
		}
		if err := store.Switch(config.DefaultLabel); err != nil {
			return err
		}

		fmt.Println("Created config:", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
