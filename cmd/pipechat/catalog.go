package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avannotate/pipechat"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse the tool directory",
}

var catalogLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all tools in the directory",
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		for _, td := range engine.Directory().List() {
			fmt.Printf("%-28s %-6s %s\n", td.ID, td.Version, td.Description)
		}
	},
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search tools by id or description",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		results := engine.Directory().Search(args[0])
		if len(results) == 0 {
			fmt.Println("No tools matched.")
			return
		}
		for _, td := range results {
			fmt.Printf("%-28s %-6s %s\n", td.ID, td.Version, td.Description)
		}
	},
}

var catalogInspectCmd = &cobra.Command{
	Use:   "inspect <tool-id>",
	Short: "Show a tool's inputs, outputs, and parameters",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		td, err := engine.Directory().Resolve(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		data, err := json.MarshalIndent(td, "", "  ")
		if err != nil {
			fmt.Printf("Error encoding descriptor: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	},
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the app directory and update the local cache",
	Run: func(cmd *cobra.Command, args []string) {
		engine, err := newEngine(cmd)
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}
		if err := engine.Directory().Refresh(cmd.Context()); err != nil {
			fmt.Printf("Error refreshing tool directory: %v\n", err)
			os.Exit(1)
		}
		if err := engine.LoadCatalog(cmd.Context()); err != nil {
			fmt.Printf("Error updating cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Directory refreshed: %d tools.\n", engine.Directory().Len())
	},
}

func mustEngine(cmd *cobra.Command) *pipechat.Engine {
	engine, err := newEngine(cmd)
	if err != nil {
		fmt.Printf("Error initializing engine: %v\n", err)
		os.Exit(1)
	}
	if err := engine.LoadCatalog(cmd.Context()); err != nil {
		fmt.Printf("Error loading tool directory: %v\n", err)
		os.Exit(1)
	}
	return engine
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogLsCmd)
	catalogCmd.AddCommand(catalogSearchCmd)
	catalogCmd.AddCommand(catalogInspectCmd)
	catalogCmd.AddCommand(catalogRefreshCmd)
}
