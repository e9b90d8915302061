package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flowatch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
