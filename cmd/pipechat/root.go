package main

import (
	"fmt"
	"os"

	"github.com/avannotate/pipechat"
	"github.com/avannotate/pipechat/internal/adapters/file"
	"github.com/avannotate/pipechat/internal/adapters/memory"
	openaiAdapter "github.com/avannotate/pipechat/internal/adapters/openai"
	redisAdapter "github.com/avannotate/pipechat/internal/adapters/redis"
	"github.com/avannotate/pipechat/internal/logging"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pipechat",
	Short: "Pipechat builds multimedia analysis pipelines through conversation",
	Long: `Pipechat turns plain-language requests into validated multimedia analysis
pipelines. It recommends tools from the CLAMS app directory, checks that each
tool's inputs are satisfied by its predecessor's outputs, and streams every
decision as it happens.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// .env is optional; flags and real env vars win.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().String("catalog-url", pipechat.DefaultCatalogURL, "Tool directory URL")
	rootCmd.PersistentFlags().String("catalog-cache", "", "Path to the tool directory snapshot cache")
	rootCmd.PersistentFlags().String("store", "memory", "Pipeline store backend: memory, file, or redis")
	rootCmd.PersistentFlags().String("store-path", "", "Directory for the file store")
	rootCmd.PersistentFlags().String("redis-addr", envOr("PIPECHAT_REDIS_ADDR", "localhost:6379"), "Redis address for the redis store")
	rootCmd.PersistentFlags().String("log-level", envOr("PIPECHAT_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newEngine assembles the engine from persistent flags and the
// environment. Planner selection: OPENAI_API_KEY switches on the chat
// model planner, otherwise the keyword planner runs offline.
func newEngine(cmd *cobra.Command, extra ...pipechat.Option) (*pipechat.Engine, error) {
	level, _ := cmd.Flags().GetString("log-level")
	logger := logging.New(logging.ParseLevel(level))

	opts := []pipechat.Option{
		pipechat.WithLogger(logger),
	}

	if url, _ := cmd.Flags().GetString("catalog-url"); url != "" && url != pipechat.DefaultCatalogURL {
		opts = append(opts, pipechat.WithCatalogSource(catalog.NewHTTPSource(url)))
	}
	if cache, _ := cmd.Flags().GetString("catalog-cache"); cache != "" {
		opts = append(opts, pipechat.WithCatalogCache(cache))
	}

	store, err := newStore(cmd)
	if err != nil {
		return nil, err
	}
	opts = append(opts, pipechat.WithStore(store))

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts = append(opts, pipechat.WithOpenAI(openaiAdapter.Config{
			APIKey:  key,
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("PIPECHAT_MODEL"),
		}))
	}

	opts = append(opts, extra...)
	return pipechat.New(opts...)
}

func newStore(cmd *cobra.Command) (ports.PipelineStore, error) {
	backend, _ := cmd.Flags().GetString("store")
	switch backend {
	case "memory":
		return memory.New(), nil
	case "file":
		path, _ := cmd.Flags().GetString("store-path")
		return file.NewStore(path), nil
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		return redisAdapter.New(addr, os.Getenv("PIPECHAT_REDIS_PASSWORD"), 0), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
