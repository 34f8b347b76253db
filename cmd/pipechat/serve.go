package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avannotate/pipechat"
	httpAdapter "github.com/avannotate/pipechat/internal/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts the engine behind a REST API with Server-Sent Event streams per session.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetString("port")

		engine, err := newEngine(cmd, pipechat.WithMetrics())
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		if err := engine.LoadCatalog(ctx); err != nil {
			fmt.Printf("Error loading tool directory: %v\n", err)
			os.Exit(1)
		}

		server := httpAdapter.NewServer(
			engine.Registry(),
			engine.Directory(),
			engine.Store(),
			httpAdapter.WithMetricsGatherer(engine.MetricsGatherer()),
		)

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: server.Handler(),
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("Starting pipechat server on %s (%d tools loaded)\n", srv.Addr, engine.Directory().Len())
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			if err := engine.Shutdown(shutdownCtx); err != nil {
				fmt.Printf("Error closing sessions: %v\n", err)
			}
			fmt.Println("Pipechat server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
}
