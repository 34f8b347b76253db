package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage saved pipelines",
}

var pipelineLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved pipelines",
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		names, err := engine.Store().List(cmd.Context())
		if err != nil {
			fmt.Printf("Error listing pipelines: %v\n", err)
			os.Exit(1)
		}
		if len(names) == 0 {
			fmt.Println("No saved pipelines.")
			return
		}
		for _, name := range names {
			fmt.Println("- " + name)
		}
	},
}

var pipelineExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Print a saved pipeline as YAML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		doc, err := engine.Store().Load(cmd.Context(), args[0])
		if err != nil {
			fmt.Printf("Error loading pipeline %q: %v\n", args[0], err)
			os.Exit(1)
		}
		data, err := doc.EncodeYAML()
		if err != nil {
			fmt.Printf("Error encoding pipeline: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
	},
}

var pipelineRmCmd = &cobra.Command{
	Use:   "rm <name>...",
	Short: "Remove one or more saved pipelines",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustEngine(cmd)
		hasError := false
		for _, name := range args {
			if err := engine.Store().Delete(cmd.Context(), name); err != nil {
				fmt.Printf("Error removing %q: %v\n", name, err)
				hasError = true
			} else {
				fmt.Printf("Removed pipeline %q\n", name)
			}
		}
		if hasError {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineLsCmd)
	pipelineCmd.AddCommand(pipelineExportCmd)
	pipelineCmd.AddCommand(pipelineRmCmd)
}
