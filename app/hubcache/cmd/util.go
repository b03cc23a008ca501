package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/cmalloy/hubcache/internal/content"
	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/store"
	"github.com/cmalloy/hubcache/internal/telemetry"
	"github.com/cmalloy/hubcache/internal/transport"
)

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup graceful shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("Interrupt signal detected, shutting down gracefully...")
		cancel()
		<-interrupt
		log.Fatal("Forcing shutdown")
	}()

	return ctx
}

func createTelemetryProvider(ctx context.Context) (*telemetry.Provider, error) {
	telemetryConfig := telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}
	return telemetry.NewProvider(ctx, telemetryConfig)
}

// buildService assembles the full retrieval stack from configuration:
// transport, rate governor, durable store, telemetry, content service
func buildService(ctx context.Context) (*content.Service, *telemetry.Provider, error) {
	var inner transport.GitHubTransport
	switch cfg.Transport {
	case "sdk":
		inner = transport.NewSDKTransport(ctx, cfg.GitHubToken)
	default:
		inner = transport.NewCLITransport()
	}

	gov := transport.NewGovernor(inner, transport.CredentialFor(cfg.GitHubToken))

	tel, err := createTelemetryProvider(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	entries := store.NewEntryStore(cfg.CacheDir)
	svc := content.NewService(gov, entries, tel)
	return svc, tel, nil
}

// parseRepo parses "owner/name"
func parseRepo(s string) (ghub.Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" {
		return ghub.Repo{}, fmt.Errorf("invalid repository %q (expected owner/name)", s)
	}
	return ghub.Repo{Owner: owner, Name: name}, nil
}

// parseItems parses a comma-separated list of "issue:42" / "pull:7" specs
func parseItems(specs []string) ([]content.ItemRequest, error) {
	var items []content.ItemRequest
	for _, arg := range specs {
		kind, num, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid item %q (expected type:number)", arg)
		}
		number, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("invalid item number in %q: %w", arg, err)
		}
		var contentType ghub.ContentType
		switch kind {
		case "issue":
			contentType = ghub.TypeIssue
		case "pull", "pr":
			contentType = ghub.TypePull
		default:
			return nil, fmt.Errorf("unknown item type %q (expected 'issue' or 'pull')", kind)
		}
		items = append(items, content.ItemRequest{Type: contentType, Number: number})
	}
	return items, nil
}
