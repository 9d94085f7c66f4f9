package cmd

import (
	"fmt"

	"github.com/brogergvhs/wxstrip/internal/config"

	"github.com/spf13/cobra"
)

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the active config profile to default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.DefaultStore().Reset()
		if err != nil {
			return err
		}

		fmt.Println("Reset config:", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configResetCmd)
}
