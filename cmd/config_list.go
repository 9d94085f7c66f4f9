package cmd

import (
	"fmt"

	"github.com/brogergvhs/wxstrip/internal/config"

	"github.com/spf13/cobra"
)

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := config.DefaultStore().List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No configs found. Run `wxstrip config init` to create one.")
			return nil
		}

		for _, c := range list {
			mark := " "
			if c.Active {
				mark = "*"
			}
			fmt.Printf("%s %-16s %s\n", mark, c.Label, c.Path)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
}
