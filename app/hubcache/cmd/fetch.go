package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cmalloy/hubcache/internal/content"
	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/policy"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch owner/name",
	Short: "Fetch a batch of issues and pull requests through the cache",
	Long: `Fetches the requested items (or, by default, all open issues and pull
requests) through the cache and prints the batch result as JSON. Cached items
within TTL are served without touching GitHub.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var (
	fetchItems    []string
	fetchIssues   string
	fetchPulls    string
	fetchStatuses bool
	fetchTTL      time.Duration
	fetchNoCache  bool
)

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchItems, "item", nil, "Item to fetch as type:number (e.g. issue:42, pull:7); repeatable")
	fetchCmd.Flags().StringVar(&fetchIssues, "issues", "", "Include an issue list with the given state (open, closed, all)")
	fetchCmd.Flags().StringVar(&fetchPulls, "pulls", "", "Include a pull request list with the given state")
	fetchCmd.Flags().BoolVar(&fetchStatuses, "statuses", false, "Include CI status for pull requests")
	fetchCmd.Flags().DurationVar(&fetchTTL, "ttl", -1, "Override all cache TTLs for this request")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "Force refresh of every requested field (equivalent to --ttl 0)")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	repo, err := parseRepo(args[0])
	if err != nil {
		return err
	}
	items, err := parseItems(fetchItems)
	if err != nil {
		return err
	}

	req := content.Request{
		Repo:            repo,
		Items:           items,
		IncludeStatuses: fetchStatuses,
	}
	if fetchIssues != "" {
		req.IncludeIssues = &ghub.ListFilters{State: fetchIssues}
	}
	if fetchPulls != "" {
		req.IncludePulls = &ghub.ListFilters{State: fetchPulls}
	}
	if fetchNoCache {
		zero := time.Duration(0)
		req.TTL = &policy.Override{All: &zero}
	} else if fetchTTL >= 0 {
		ttl := fetchTTL
		req.TTL = &policy.Override{All: &ttl}
	}

	svc, tel, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	res, err := svc.FetchBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
