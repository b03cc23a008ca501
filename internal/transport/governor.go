package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
)

const (
	// defaultMaxRetries bounds internal retries on rate-limit errors
	defaultMaxRetries = 3
	// defaultPollInterval is how old a rate-limit snapshot may grow before it
	// is re-fetched ahead of a call
	defaultPollInterval = time.Minute
	// rateFloor is the remaining-call threshold below which the governor
	// sleeps until the limit resets instead of issuing the call
	rateFloor = 1
	// maxBackoff caps the exponential backoff sleep
	maxBackoff = 60 * time.Second
)

// Governor wraps a GitHubTransport with availability memoization, lazy
// authentication, rate-limit tracking with pre-call throttling, and
// exponential backoff on rate-limit errors. It implements GitHubTransport so
// callers are unaware of the wrapping
type Governor struct {
	inner    GitHubTransport
	classify Classifier
	cred     Credential

	pollInterval time.Duration
	maxRetries   int

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	availOnce sync.Once
	availErr  error

	mu        sync.Mutex
	snapshots map[Credential]*RateLimitSnapshot
	authDone  map[Credential]error
}

// NewGovernor wraps a transport for the given credential identity
func NewGovernor(inner GitHubTransport, cred Credential) *Governor {
	return &Governor{
		inner:        inner,
		classify:     DefaultClassifier,
		cred:         cred,
		pollInterval: defaultPollInterval,
		maxRetries:   defaultMaxRetries,
		now:          time.Now,
		sleep:        sleepContext,
		snapshots:    map[Credential]*RateLimitSnapshot{},
		authDone:     map[Credential]error{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Snapshot returns a copy of the current rate-limit view for the governor's
// credential, or nil if no call has populated it yet
func (g *Governor) Snapshot() *RateLimitSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.snapshots[g.cred]
	if !ok {
		return nil
	}
	copied := *snap
	return &copied
}

// ensureAvailable verifies the underlying transport once per process
func (g *Governor) ensureAvailable(ctx context.Context) error {
	g.availOnce.Do(func() {
		g.availErr = g.inner.CheckAvailable(ctx)
	})
	return g.availErr
}

// ensureAuthenticated memoizes the auth check per credential. A bearer token
// is assumed valid and verified lazily by call failure, avoiding a double
// round trip
func (g *Governor) ensureAuthenticated(ctx context.Context) error {
	g.mu.Lock()
	if err, done := g.authDone[g.cred]; done {
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	var err error
	if g.cred != CredentialToken {
		err = g.inner.CheckAuthenticated(ctx, g.cred)
	}

	g.mu.Lock()
	g.authDone[g.cred] = err
	g.mu.Unlock()
	return err
}

// ensureBudget refreshes the rate-limit snapshot when it is past its reset
// time or older than the polling interval, sleeps until reset when the
// remaining budget is exhausted, and optimistically decrements the local
// counter for the imminent call
func (g *Governor) ensureBudget(ctx context.Context) error {
	now := g.now()

	g.mu.Lock()
	snap, ok := g.snapshots[g.cred]
	stale := !ok || now.After(snap.ResetAt) || now.Sub(snap.FetchedAt) > g.pollInterval
	g.mu.Unlock()

	if stale {
		g.refreshSnapshot(ctx)
	}

	g.mu.Lock()
	snap = g.snapshots[g.cred]
	var wait time.Duration
	if snap.Remaining <= rateFloor && snap.ResetAt.After(now) {
		wait = snap.ResetAt.Sub(now)
	}
	g.mu.Unlock()

	if wait > 0 {
		log.Printf("[ratelimit] %s budget exhausted, sleeping %s until reset", g.cred, wait.Round(time.Second))
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		g.refreshSnapshot(ctx)
	}

	g.mu.Lock()
	g.snapshots[g.cred].Remaining--
	g.mu.Unlock()
	return nil
}

// refreshSnapshot re-fetches the rate limit, falling back to an optimistic
// default when the lookup itself fails. A fresh process self-corrects on the
// first successful refresh
func (g *Governor) refreshSnapshot(ctx context.Context) {
	snap, err := g.inner.GetRateLimit(ctx, g.cred)
	if err != nil {
		log.Printf("[ratelimit] failed to fetch rate limit for %s: %v", g.cred, err)
		snap = g.optimisticSnapshot()
	}
	snap.FetchedAt = g.now()

	g.mu.Lock()
	g.snapshots[g.cred] = snap
	g.mu.Unlock()
}

func (g *Governor) optimisticSnapshot() *RateLimitSnapshot {
	limit := 60 // anonymous core limit
	if g.cred == CredentialToken {
		limit = 5000
	}
	return &RateLimitSnapshot{
		Limit:     limit,
		Remaining: limit,
		ResetAt:   g.now().Add(time.Hour),
	}
}

func backoffDelay(attempt int) time.Duration {
	d := time.Second << attempt // 2^attempt seconds
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// govern runs one transport call under the governor's throttling and retry
// policy. Rate-limited failures are retried with exponential backoff up to
// the configured maximum before the underlying error propagates
func govern[T any](ctx context.Context, g *Governor, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := g.ensureAvailable(ctx); err != nil {
		return zero, err
	}
	if err := g.ensureAuthenticated(ctx); err != nil {
		return zero, err
	}

	for attempt := 0; ; {
		if err := g.ensureBudget(ctx); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if ClassifyError(g.classify, err) != KindRateLimited || attempt >= g.maxRetries {
			return zero, err
		}

		attempt++
		delay := backoffDelay(attempt)
		log.Printf("[ratelimit] rate limited (attempt %d/%d), backing off %s", attempt, g.maxRetries, delay)
		if serr := g.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
		g.refreshSnapshot(ctx)
	}
}

func (g *Governor) CheckAvailable(ctx context.Context) error {
	return g.ensureAvailable(ctx)
}

func (g *Governor) CheckAuthenticated(ctx context.Context, _ Credential) error {
	if err := g.ensureAvailable(ctx); err != nil {
		return err
	}
	return g.ensureAuthenticated(ctx)
}

func (g *Governor) GetIssue(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	return govern(ctx, g, func(ctx context.Context) (*ghub.Item, error) {
		return g.inner.GetIssue(ctx, repo, number)
	})
}

func (g *Governor) GetPullRequest(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	return govern(ctx, g, func(ctx context.Context) (*ghub.Item, error) {
		return g.inner.GetPullRequest(ctx, repo, number)
	})
}

func (g *Governor) ListIssueComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	return govern(ctx, g, func(ctx context.Context) ([]ghub.Comment, error) {
		return g.inner.ListIssueComments(ctx, repo, number)
	})
}

func (g *Governor) ListPullRequestComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	return govern(ctx, g, func(ctx context.Context) ([]ghub.Comment, error) {
		return g.inner.ListPullRequestComments(ctx, repo, number)
	})
}

func (g *Governor) ListReviewComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.ReviewComment, error) {
	return govern(ctx, g, func(ctx context.Context) ([]ghub.ReviewComment, error) {
		return g.inner.ListReviewComments(ctx, repo, number)
	})
}

func (g *Governor) GetStatus(ctx context.Context, repo ghub.Repo, number int) (*ghub.CIStatus, error) {
	return govern(ctx, g, func(ctx context.Context) (*ghub.CIStatus, error) {
		return g.inner.GetStatus(ctx, repo, number)
	})
}

func (g *Governor) GetStatusBatch(ctx context.Context, repo ghub.Repo, numbers []int) (map[int]*ghub.CIStatus, error) {
	return govern(ctx, g, func(ctx context.Context) (map[int]*ghub.CIStatus, error) {
		return g.inner.GetStatusBatch(ctx, repo, numbers)
	})
}

func (g *Governor) ListIssues(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	return govern(ctx, g, func(ctx context.Context) ([]ghub.Item, error) {
		return g.inner.ListIssues(ctx, repo, filters)
	})
}

func (g *Governor) ListPullRequests(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	return govern(ctx, g, func(ctx context.Context) ([]ghub.Item, error) {
		return g.inner.ListPullRequests(ctx, repo, filters)
	})
}

func (g *Governor) GetRateLimit(ctx context.Context, cred Credential) (*RateLimitSnapshot, error) {
	return g.inner.GetRateLimit(ctx, cred)
}
