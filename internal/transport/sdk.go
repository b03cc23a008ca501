package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v72/github"
	"golang.org/x/oauth2"

	"github.com/cmalloy/hubcache/internal/ghub"
)

// SDKTransport implements GitHubTransport against the REST API using the
// go-github client. It exists for deployments where the gh CLI is not
// installed; the governed client treats both transports identically
type SDKTransport struct {
	client *github.Client
}

// NewSDKTransport creates an SDK-backed transport. An empty token yields an
// unauthenticated client with the anonymous rate limit
func NewSDKTransport(ctx context.Context, token string) *SDKTransport {
	httpClient := http.DefaultClient
	if token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, tokenSource)
	}
	return &SDKTransport{client: github.NewClient(httpClient)}
}

// CheckAvailable always succeeds; there is no external tool to probe
func (t *SDKTransport) CheckAvailable(_ context.Context) error {
	return nil
}

func (t *SDKTransport) CheckAuthenticated(ctx context.Context, cred Credential) error {
	if cred == CredentialAnonymous {
		return nil
	}
	if _, _, err := t.client.Users.Get(ctx, ""); err != nil {
		return ErrNotAuthenticated
	}
	return nil
}

func (t *SDKTransport) GetIssue(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	issue, resp, err := t.client.Issues.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to get issue #%d", number))
	}
	return issueToItem(issue), nil
}

func (t *SDKTransport) GetPullRequest(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	pr, resp, err := t.client.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to get pull request #%d", number))
	}
	return prToItem(pr), nil
}

func (t *SDKTransport) ListIssueComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []ghub.Comment
	for {
		comments, resp, err := t.client.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
		if err != nil {
			return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to list comments for #%d", number))
		}
		for _, c := range comments {
			all = append(all, ghub.Comment{
				ID:        c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				URL:       c.GetHTMLURL(),
				CreatedAt: c.GetCreatedAt().Time,
				UpdatedAt: c.GetUpdatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListPullRequestComments lists conversation comments on a pull request,
// which GitHub stores as issue comments
func (t *SDKTransport) ListPullRequestComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	return t.ListIssueComments(ctx, repo, number)
}

func (t *SDKTransport) ListReviewComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.ReviewComment, error) {
	opts := &github.PullRequestListCommentsOptions{
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []ghub.ReviewComment
	for {
		comments, resp, err := t.client.PullRequests.ListComments(ctx, repo.Owner, repo.Name, number, opts)
		if err != nil {
			return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to list review comments for #%d", number))
		}
		for _, c := range comments {
			all = append(all, ghub.ReviewComment{
				Comment: ghub.Comment{
					ID:        c.GetID(),
					Author:    c.GetUser().GetLogin(),
					Body:      c.GetBody(),
					URL:       c.GetHTMLURL(),
					CreatedAt: c.GetCreatedAt().Time,
					UpdatedAt: c.GetUpdatedAt().Time,
				},
				Path:      c.GetPath(),
				Line:      c.GetLine(),
				InReplyTo: c.GetInReplyTo(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (t *SDKTransport) GetStatus(ctx context.Context, repo ghub.Repo, number int) (*ghub.CIStatus, error) {
	pr, resp, err := t.client.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to get pull request #%d", number))
	}

	checkRuns, resp, err := t.client.Checks.ListCheckRunsForRef(ctx, repo.Owner, repo.Name, pr.GetHead().GetSHA(), &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapSDKError(err, resp, fmt.Sprintf("failed to list check runs for #%d", number))
	}

	checks := make([]ghub.Check, 0, len(checkRuns.CheckRuns))
	for _, run := range checkRuns.CheckRuns {
		checks = append(checks, ghub.Check{
			Name:       run.GetName(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
			DetailsURL: run.GetDetailsURL(),
		})
	}
	status := ghub.Summarize(checks)
	return &status, nil
}

// GetStatusBatch satisfies the batch contract over REST. The REST API has no
// aliased multi-PR query, so this degrades to sequential GetStatus calls;
// the CLI transport is preferred where batch amortization matters
func (t *SDKTransport) GetStatusBatch(ctx context.Context, repo ghub.Repo, numbers []int) (map[int]*ghub.CIStatus, error) {
	statuses := make(map[int]*ghub.CIStatus, len(numbers))
	for _, n := range numbers {
		status, err := t.GetStatus(ctx, repo, n)
		if err != nil {
			return nil, err
		}
		statuses[n] = status
	}
	return statuses, nil
}

func (t *SDKTransport) ListIssues(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	opts := &github.IssueListByRepoOptions{
		State:       defaultState(filters.State),
		Labels:      filters.Labels,
		Assignee:    filters.Assignee,
		ListOptions: github.ListOptions{PerPage: listLimit(filters.Limit)},
	}
	issues, resp, err := t.client.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, wrapSDKError(err, resp, "failed to list issues")
	}

	items := make([]ghub.Item, 0, len(issues))
	for _, issue := range issues {
		// The issues endpoint returns pull requests too; exclude them
		if issue.IsPullRequest() {
			continue
		}
		items = append(items, *issueToItem(issue))
	}
	return items, nil
}

func (t *SDKTransport) ListPullRequests(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	opts := &github.PullRequestListOptions{
		State:       defaultState(filters.State),
		ListOptions: github.ListOptions{PerPage: listLimit(filters.Limit)},
	}
	prs, resp, err := t.client.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, wrapSDKError(err, resp, "failed to list pull requests")
	}

	items := make([]ghub.Item, len(prs))
	for i, pr := range prs {
		items[i] = *prToItem(pr)
	}
	return items, nil
}

func (t *SDKTransport) GetRateLimit(ctx context.Context, _ Credential) (*RateLimitSnapshot, error) {
	limits, resp, err := t.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, wrapSDKError(err, resp, "failed to get rate limit")
	}
	core := limits.GetCore()
	return &RateLimitSnapshot{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
		FetchedAt: time.Now(),
	}, nil
}

func issueToItem(issue *github.Issue) *ghub.Item {
	item := &ghub.Item{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     strings.ToLower(issue.GetState()),
		Author:    issue.GetUser().GetLogin(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.Time
		item.ClosedAt = &t
	}
	for _, label := range issue.Labels {
		item.Labels = append(item.Labels, label.GetName())
	}
	return item
}

func prToItem(pr *github.PullRequest) *ghub.Item {
	item := &ghub.Item{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		State:     strings.ToLower(pr.GetState()),
		Author:    pr.GetUser().GetLogin(),
		URL:       pr.GetHTMLURL(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
		HeadRef:   pr.GetHead().GetRef(),
		BaseRef:   pr.GetBase().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		Draft:     pr.GetDraft(),
		Merged:    pr.GetMerged(),
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		item.ClosedAt = &t
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		item.MergedAt = &t
		item.Merged = true
	}
	for _, label := range pr.Labels {
		item.Labels = append(item.Labels, label.GetName())
	}
	return item
}

// wrapSDKError converts a go-github failure into a *Error whose text the
// default classifier understands. The HTTP status line ("404 Not Found",
// "403 rate limit exceeded") is already part of the SDK's error string
func wrapSDKError(err error, resp *github.Response, message string) error {
	terr := &Error{Message: fmt.Sprintf("%s: %v", message, err)}
	if resp != nil && resp.StatusCode == http.StatusNotFound && !strings.Contains(strings.ToLower(terr.Message), "not found") {
		terr.Message += " (404 Not Found)"
	}
	return terr
}

func defaultState(state string) string {
	if state == "" {
		return "open"
	}
	return state
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
