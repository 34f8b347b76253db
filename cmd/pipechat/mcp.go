package main

import (
	"fmt"
	"os"

	"github.com/avannotate/pipechat"
	mcpAdapter "github.com/avannotate/pipechat/internal/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long:  `Exposes the tool directory and saved pipelines to MCP clients over stdin/stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		server := mcpAdapter.NewServer(engine.Directory(), engine.Store(), pipechat.Version)
		if err := server.ServeStdio(); err != nil {
			fmt.Printf("MCP server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
