// Package transport provides access to GitHub content through an abstract
// transport interface, with a gh-CLI-backed implementation, a REST-SDK-backed
// implementation, and a rate-governing wrapper that throttles and retries on
// behalf of callers.
package transport

import (
	"context"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
)

// GitHubTransport is the capability this subsystem consumes to reach GitHub.
// Every method may fail with a *Error carrying a human-readable message and
// an optional process exit code; error text is the sole signal used to
// classify failures.
type GitHubTransport interface {
	// CheckAvailable verifies the transport can be used at all (e.g. the gh
	// binary is installed). Called once per process by the governed client
	CheckAvailable(ctx context.Context) error

	// CheckAuthenticated verifies the given credential can make calls
	CheckAuthenticated(ctx context.Context, cred Credential) error

	GetIssue(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error)
	GetPullRequest(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error)

	ListIssueComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error)
	ListPullRequestComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error)
	ListReviewComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.ReviewComment, error)

	GetStatus(ctx context.Context, repo ghub.Repo, number int) (*ghub.CIStatus, error)
	// GetStatusBatch retrieves CI status for many pull requests in one round
	// trip, to amortize rate-limit consumption when refreshing many open PRs
	GetStatusBatch(ctx context.Context, repo ghub.Repo, numbers []int) (map[int]*ghub.CIStatus, error)

	ListIssues(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error)
	ListPullRequests(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error)

	GetRateLimit(ctx context.Context, cred Credential) (*RateLimitSnapshot, error)
}

// Credential is an identity for rate-limit accounting. It is derived from
// token presence, never from the token value itself, so it is safe to log
// and to use as a map key
type Credential string

const (
	CredentialAnonymous Credential = "anonymous"
	CredentialToken     Credential = "token"
)

// CredentialFor returns the accounting identity for a token
func CredentialFor(token string) Credential {
	if token == "" {
		return CredentialAnonymous
	}
	return CredentialToken
}

// RateLimitSnapshot is a point-in-time view of the shared API rate limit for
// one credential identity
type RateLimitSnapshot struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	FetchedAt time.Time `json:"fetchedAt"`
}
