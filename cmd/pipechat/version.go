package main

import (
	"fmt"

	"github.com/avannotate/pipechat"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pipechat",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pipechat version %s\n", pipechat.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
