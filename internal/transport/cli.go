package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
)

// runFunc executes the CLI and returns its stdout. Injectable for tests
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// CLITransport implements GitHubTransport by shelling out to the gh CLI
type CLITransport struct {
	bin string
	run runFunc
}

// NewCLITransport creates a transport backed by the gh binary. It inherits
// authentication from the gh CLI configuration
func NewCLITransport() *CLITransport {
	t := &CLITransport{bin: "gh"}
	t.run = t.execRun
	return t
}

func (t *CLITransport) execRun(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNotInstalled
		}
		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &Error{
			Message:  fmt.Sprintf("gh %s failed", strings.Join(args[:min(2, len(args))], " ")),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}

	return stdout.Bytes(), nil
}

// CheckAvailable verifies gh is installed and in PATH
func (t *CLITransport) CheckAvailable(_ context.Context) error {
	if _, err := exec.LookPath(t.bin); err != nil {
		return ErrNotInstalled
	}
	return nil
}

// CheckAuthenticated verifies gh has a usable login. gh auth status exits
// non-zero when not authenticated
func (t *CLITransport) CheckAuthenticated(ctx context.Context, _ Credential) error {
	if _, err := t.run(ctx, "auth", "status"); err != nil {
		var terr *Error
		if errors.As(err, &terr) && containsAny(strings.ToLower(terr.Stderr), "not logged", "no accounts") {
			return ErrNotAuthenticated
		}
		return err
	}
	return nil
}

const itemFields = "number,title,body,state,author,labels,createdAt,updatedAt,closedAt,url"
const pullFields = itemFields + ",headRefName,baseRefName,headRefOid,isDraft,mergedAt"

func (t *CLITransport) GetIssue(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	out, err := t.run(ctx, "issue", "view", strconv.Itoa(number), "--repo", repo.String(), "--json", itemFields)
	if err != nil {
		return nil, err
	}
	var raw cliItem
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	return raw.toItem(), nil
}

func (t *CLITransport) GetPullRequest(ctx context.Context, repo ghub.Repo, number int) (*ghub.Item, error) {
	out, err := t.run(ctx, "pr", "view", strconv.Itoa(number), "--repo", repo.String(), "--json", pullFields)
	if err != nil {
		return nil, err
	}
	var raw cliItem
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	return raw.toItem(), nil
}

func (t *CLITransport) ListIssueComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	return t.listComments(ctx, fmt.Sprintf("repos/%s/issues/%d/comments", repo, number))
}

// ListPullRequestComments lists top-level conversation comments on a pull
// request. GitHub models these as issue comments
func (t *CLITransport) ListPullRequestComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.Comment, error) {
	return t.listComments(ctx, fmt.Sprintf("repos/%s/issues/%d/comments", repo, number))
}

func (t *CLITransport) listComments(ctx context.Context, endpoint string) ([]ghub.Comment, error) {
	out, err := t.run(ctx, "api", endpoint, "--paginate")
	if err != nil {
		return nil, err
	}
	var raw []restComment
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	comments := make([]ghub.Comment, len(raw))
	for i, c := range raw {
		comments[i] = c.toComment()
	}
	return comments, nil
}

func (t *CLITransport) ListReviewComments(ctx context.Context, repo ghub.Repo, number int) ([]ghub.ReviewComment, error) {
	out, err := t.run(ctx, "api", fmt.Sprintf("repos/%s/pulls/%d/comments", repo, number), "--paginate")
	if err != nil {
		return nil, err
	}
	var raw []restComment
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	comments := make([]ghub.ReviewComment, len(raw))
	for i, c := range raw {
		comments[i] = ghub.ReviewComment{
			Comment:   c.toComment(),
			Path:      c.Path,
			Line:      c.Line,
			InReplyTo: c.InReplyToID,
		}
	}
	return comments, nil
}

func (t *CLITransport) GetStatus(ctx context.Context, repo ghub.Repo, number int) (*ghub.CIStatus, error) {
	out, err := t.run(ctx, "pr", "view", strconv.Itoa(number), "--repo", repo.String(), "--json", "statusCheckRollup")
	if err != nil {
		return nil, err
	}
	var raw struct {
		StatusCheckRollup []cliCheck `json:"statusCheckRollup"`
	}
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	status := ghub.Summarize(convertChecks(raw.StatusCheckRollup))
	return &status, nil
}

// GetStatusBatch fetches CI status for many pull requests with a single
// GraphQL query, aliasing one pullRequest field per requested number
func (t *CLITransport) GetStatusBatch(ctx context.Context, repo ghub.Repo, numbers []int) (map[int]*ghub.CIStatus, error) {
	if len(numbers) == 0 {
		return map[int]*ghub.CIStatus{}, nil
	}

	var query strings.Builder
	fmt.Fprintf(&query, "query { repository(owner: %q, name: %q) {", repo.Owner, repo.Name)
	for _, n := range numbers {
		fmt.Fprintf(&query, ` pr%d: pullRequest(number: %d) { commits(last: 1) { nodes { commit { statusCheckRollup { state contexts(first: 100) { nodes { __typename ... on CheckRun { name status conclusion detailsUrl } } } } } } } }`, n, n)
	}
	query.WriteString(" } }")

	out, err := t.run(ctx, "api", "graphql", "-f", "query="+query.String())
	if err != nil {
		return nil, err
	}

	var raw struct {
		Data struct {
			Repository map[string]json.RawMessage `json:"repository"`
		} `json:"data"`
	}
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}

	statuses := make(map[int]*ghub.CIStatus, len(numbers))
	for _, n := range numbers {
		node, ok := raw.Data.Repository[fmt.Sprintf("pr%d", n)]
		if !ok || string(node) == "null" {
			statuses[n] = nil
			continue
		}
		statuses[n] = parseRollupNode(node)
	}
	return statuses, nil
}

func (t *CLITransport) ListIssues(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	args := append([]string{"issue", "list", "--repo", repo.String(), "--json", itemFields}, filterArgs(filters)...)
	return t.list(ctx, args)
}

func (t *CLITransport) ListPullRequests(ctx context.Context, repo ghub.Repo, filters ghub.ListFilters) ([]ghub.Item, error) {
	args := append([]string{"pr", "list", "--repo", repo.String(), "--json", pullFields}, filterArgs(filters)...)
	return t.list(ctx, args)
}

func (t *CLITransport) list(ctx context.Context, args []string) ([]ghub.Item, error) {
	out, err := t.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var raw []cliItem
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	items := make([]ghub.Item, len(raw))
	for i, r := range raw {
		items[i] = *r.toItem()
	}
	return items, nil
}

func (t *CLITransport) GetRateLimit(ctx context.Context, _ Credential) (*RateLimitSnapshot, error) {
	out, err := t.run(ctx, "api", "rate_limit")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := t.parseJSON(out, &raw); err != nil {
		return nil, err
	}
	return &RateLimitSnapshot{
		Limit:     raw.Resources.Core.Limit,
		Remaining: raw.Resources.Core.Remaining,
		ResetAt:   time.Unix(raw.Resources.Core.Reset, 0),
		FetchedAt: time.Now(),
	}, nil
}

func (t *CLITransport) parseJSON(out []byte, target any) error {
	if err := json.Unmarshal(out, target); err != nil {
		return &Error{Message: fmt.Sprintf("failed to parse gh output: %v", err)}
	}
	return nil
}

func filterArgs(filters ghub.ListFilters) []string {
	var args []string
	if filters.State != "" {
		args = append(args, "--state", filters.State)
	}
	if len(filters.Labels) > 0 {
		args = append(args, "--label", strings.Join(filters.Labels, ","))
	}
	if filters.Assignee != "" {
		args = append(args, "--assignee", filters.Assignee)
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, "--limit", strconv.Itoa(limit))
	return args
}

// cliItem matches the camelCase JSON emitted by gh issue/pr view --json
type cliItem struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt"`

	HeadRefName string     `json:"headRefName"`
	BaseRefName string     `json:"baseRefName"`
	HeadRefOid  string     `json:"headRefOid"`
	IsDraft     bool       `json:"isDraft"`
	MergedAt    *time.Time `json:"mergedAt"`
}

func (c cliItem) toItem() *ghub.Item {
	item := &ghub.Item{
		Number:    c.Number,
		Title:     c.Title,
		Body:      c.Body,
		State:     strings.ToLower(c.State),
		Author:    c.Author.Login,
		URL:       c.URL,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		ClosedAt:  c.ClosedAt,
		HeadRef:   c.HeadRefName,
		BaseRef:   c.BaseRefName,
		HeadSHA:   c.HeadRefOid,
		Draft:     c.IsDraft,
		MergedAt:  c.MergedAt,
	}
	// gh reports "MERGED" as a state of its own
	if item.State == "merged" {
		item.State = "closed"
		item.Merged = true
	}
	if c.MergedAt != nil {
		item.Merged = true
	}
	for _, l := range c.Labels {
		item.Labels = append(item.Labels, l.Name)
	}
	return item
}

// restComment matches the snake_case JSON of the REST comment endpoints
// reached through gh api
type restComment struct {
	ID   int64 `json:"id"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Path        string    `json:"path"`
	Line        int       `json:"line"`
	InReplyToID int64     `json:"in_reply_to_id"`
}

func (c restComment) toComment() ghub.Comment {
	return ghub.Comment{
		ID:        c.ID,
		Author:    c.User.Login,
		Body:      c.Body,
		URL:       c.HTMLURL,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// cliCheck matches one statusCheckRollup entry from gh pr view
type cliCheck struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	DetailsURL string `json:"detailsUrl"`
}

func convertChecks(raw []cliCheck) []ghub.Check {
	checks := make([]ghub.Check, len(raw))
	for i, c := range raw {
		checks[i] = ghub.Check{
			Name:       c.Name,
			Status:     strings.ToLower(c.Status),
			Conclusion: strings.ToLower(c.Conclusion),
			DetailsURL: c.DetailsURL,
		}
	}
	return checks
}

// parseRollupNode extracts a CIStatus from the GraphQL commit rollup shape
// used by GetStatusBatch
func parseRollupNode(node json.RawMessage) *ghub.CIStatus {
	var raw struct {
		Commits struct {
			Nodes []struct {
				Commit struct {
					StatusCheckRollup *struct {
						State    string `json:"state"`
						Contexts struct {
							Nodes []cliCheck `json:"nodes"`
						} `json:"contexts"`
					} `json:"statusCheckRollup"`
				} `json:"commit"`
			} `json:"nodes"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(node, &raw); err != nil || len(raw.Commits.Nodes) == 0 {
		return nil
	}
	rollup := raw.Commits.Nodes[0].Commit.StatusCheckRollup
	if rollup == nil {
		return &ghub.CIStatus{State: "unknown"}
	}
	return &ghub.CIStatus{
		State:  strings.ToLower(rollup.State),
		Checks: convertChecks(rollup.Contexts.Nodes),
	}
}
