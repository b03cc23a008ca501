package cmd

import (
	"log"

	"github.com/cmalloy/hubcache/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "hubcache",
	Short: "Cached, rate-governed retrieval of GitHub issues and pull requests",
	Long: `Hubcache fetches GitHub issues, pull requests, comments, and CI status
through a two-tier cache: a durable on-disk store plus a bounded in-memory
tier. Repeated reads are served from cache within per-field TTLs, transport
failures fall back to stale data, and all GitHub calls run under a rate
governor with exponential backoff.`,
	PersistentPreRunE: loadRootConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadRootConfig(_ *cobra.Command, _ []string) error {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg = config.Load()
	if cacheDirFlag != "" {
		cfg.CacheDir = cacheDirFlag
	}
	if transportFlag != "" {
		cfg.Transport = transportFlag
	}
	return cfg.Validate()
}

var (
	cacheDirFlag  string
	transportFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cacheDirFlag, "cache-dir", "", "Cache directory (default: user cache dir)")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "GitHub transport: 'cli' or 'sdk'")
}
