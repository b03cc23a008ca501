package cmd

import (
	"log"
	"time"

	"github.com/cmalloy/hubcache/internal/content"
	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm owner/name [owner/name...]",
	Short: "Run the background cache warmer for the given repositories",
	Long: `Starts a long-running warm scheduler. Each repository is fetched once to
seed the cache, then periodically refreshed shortly before its cached entries
expire, so interactive fetches keep hitting warm cache.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWarm,
}

var warmIntervalFlag time.Duration

func init() {
	warmCmd.Flags().DurationVar(&warmIntervalFlag, "interval", 30*time.Second, "Interval between warm cycles")

	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	interval := cfg.WarmInterval
	if cmd.Flags().Changed("interval") {
		interval = warmIntervalFlag
	}

	svc, tel, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	warmer := content.NewWarmer(interval)
	svc.AttachWarmer(warmer)

	// Seed the cache and register each repository with the warmer. Seeding
	// counts as foreground access, so the warmer will keep these warm
	for _, arg := range args {
		repo, err := parseRepo(arg)
		if err != nil {
			return err
		}
		res, err := svc.FetchBatch(ctx, content.Request{Repo: repo})
		if err != nil {
			return err
		}
		log.Printf("[warm] seeded %s: %d items, %d errors", repo, len(res.Items), len(res.Errors))
		// Register a second access so the warmer's hit-count gate opens
		// without waiting for another caller
		res, err = svc.FetchBatch(ctx, content.Request{Repo: repo})
		if err != nil {
			return err
		}
		log.Printf("[warm] verified %s from cache: %d hits", repo, res.Meta.CacheHits)
	}

	log.Printf("Warm scheduler running every %s; press Ctrl-C to stop", interval)
	warmer.Run(ctx)
	return nil
}
