package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCLI returns a CLITransport whose runs are served from canned responses
// keyed by the first matching argument substring, recording every invocation
func stubCLI(responses map[string]string) (*CLITransport, *[][]string) {
	var invocations [][]string
	t := &CLITransport{bin: "gh"}
	t.run = func(_ context.Context, args ...string) ([]byte, error) {
		invocations = append(invocations, args)
		joined := strings.Join(args, " ")
		for pattern, out := range responses {
			if strings.Contains(joined, pattern) {
				return []byte(out), nil
			}
		}
		return nil, &Error{Message: "gh " + joined + " failed", ExitCode: 1, Stderr: "HTTP 404: Not Found"}
	}
	return t, &invocations
}

func TestCLIGetIssue(t *testing.T) {
	cli, invocations := stubCLI(map[string]string{
		"issue view": `{
			"number": 42,
			"title": "Widget falls over",
			"body": "It just does",
			"state": "OPEN",
			"author": {"login": "octocat"},
			"labels": [{"name": "bug"}, {"name": "p1"}],
			"createdAt": "2025-03-01T10:00:00Z",
			"updatedAt": "2025-03-02T11:30:00Z",
			"closedAt": null,
			"url": "https://github.com/acme/widgets/issues/42"
		}`,
	})

	item, err := cli.GetIssue(context.Background(), testRepo, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, item.Number)
	assert.Equal(t, "Widget falls over", item.Title)
	assert.Equal(t, "open", item.State, "states are normalized to lowercase")
	assert.Equal(t, "octocat", item.Author)
	assert.Equal(t, []string{"bug", "p1"}, item.Labels)
	assert.Nil(t, item.ClosedAt)

	require.Len(t, *invocations, 1)
	args := (*invocations)[0]
	assert.Equal(t, []string{"issue", "view", "42", "--repo", "acme/widgets"}, args[:5])
}

func TestCLIGetPullRequestMerged(t *testing.T) {
	cli, _ := stubCLI(map[string]string{
		"pr view": `{
			"number": 7,
			"title": "Add frobnicator",
			"state": "MERGED",
			"author": {"login": "octocat"},
			"headRefName": "feature/frob",
			"baseRefName": "main",
			"headRefOid": "abc123",
			"isDraft": false,
			"mergedAt": "2025-03-03T09:00:00Z",
			"createdAt": "2025-03-01T10:00:00Z",
			"updatedAt": "2025-03-03T09:00:00Z"
		}`,
	})

	item, err := cli.GetPullRequest(context.Background(), testRepo, 7)
	require.NoError(t, err)
	assert.Equal(t, "closed", item.State, "MERGED maps to closed")
	assert.True(t, item.Merged)
	assert.Equal(t, "feature/frob", item.HeadRef)
	assert.Equal(t, "abc123", item.HeadSHA)
}

func TestCLIListComments(t *testing.T) {
	cli, invocations := stubCLI(map[string]string{
		"issues/42/comments": `[
			{
				"id": 1001,
				"user": {"login": "hubber"},
				"body": "me too",
				"html_url": "https://github.com/acme/widgets/issues/42#issuecomment-1001",
				"created_at": "2025-03-02T08:00:00Z",
				"updated_at": "2025-03-02T08:00:00Z"
			}
		]`,
	})

	comments, err := cli.ListIssueComments(context.Background(), testRepo, 42)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(1001), comments[0].ID)
	assert.Equal(t, "hubber", comments[0].Author)
	assert.Equal(t, "me too", comments[0].Body)

	args := (*invocations)[0]
	assert.Contains(t, args, "--paginate")

	// PR conversation comments come from the issues endpoint
	_, err = cli.ListPullRequestComments(context.Background(), testRepo, 42)
	require.NoError(t, err)
	assert.Contains(t, strings.Join((*invocations)[1], " "), "issues/42/comments")
}

func TestCLIListReviewComments(t *testing.T) {
	cli, _ := stubCLI(map[string]string{
		"pulls/7/comments": `[
			{
				"id": 2002,
				"user": {"login": "reviewer"},
				"body": "rename this",
				"path": "main.go",
				"line": 12,
				"in_reply_to_id": 2001,
				"created_at": "2025-03-02T08:00:00Z",
				"updated_at": "2025-03-02T08:00:00Z"
			}
		]`,
	})

	comments, err := cli.ListReviewComments(context.Background(), testRepo, 7)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "main.go", comments[0].Path)
	assert.Equal(t, 12, comments[0].Line)
	assert.Equal(t, int64(2001), comments[0].InReplyTo)
}

func TestCLIGetStatus(t *testing.T) {
	cli, _ := stubCLI(map[string]string{
		"statusCheckRollup": `{
			"statusCheckRollup": [
				{"name": "build", "status": "COMPLETED", "conclusion": "SUCCESS", "detailsUrl": "https://ci/1"},
				{"name": "lint", "status": "IN_PROGRESS", "conclusion": "", "detailsUrl": "https://ci/2"}
			]
		}`,
	})

	status, err := cli.GetStatus(context.Background(), testRepo, 7)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.State)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "build", status.Checks[0].Name)
	assert.Equal(t, "success", status.Checks[0].Conclusion)
}

func TestCLIGetStatusBatch(t *testing.T) {
	cli, invocations := stubCLI(map[string]string{
		"graphql": `{
			"data": {
				"repository": {
					"pr7": {
						"commits": {"nodes": [{"commit": {"statusCheckRollup": {
							"state": "SUCCESS",
							"contexts": {"nodes": [
								{"__typename": "CheckRun", "name": "build", "status": "COMPLETED", "conclusion": "SUCCESS"}
							]}
						}}}]}
					},
					"pr9": null
				}
			}
		}`,
	})

	statuses, err := cli.GetStatusBatch(context.Background(), testRepo, []int{7, 9})
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	require.NotNil(t, statuses[7])
	assert.Equal(t, "success", statuses[7].State)
	require.Len(t, statuses[7].Checks, 1)
	assert.Nil(t, statuses[9], "missing pull requests resolve to nil status")

	// One invocation, with both numbers aliased into the query
	require.Len(t, *invocations, 1)
	query := strings.Join((*invocations)[0], " ")
	assert.Contains(t, query, "pr7: pullRequest(number: 7)")
	assert.Contains(t, query, "pr9: pullRequest(number: 9)")
}

func TestCLIGetStatusBatchEmpty(t *testing.T) {
	cli, invocations := stubCLI(nil)
	statuses, err := cli.GetStatusBatch(context.Background(), testRepo, nil)
	require.NoError(t, err)
	assert.Empty(t, statuses)
	assert.Empty(t, *invocations, "no numbers means no call")
}

func TestCLIListIssuesFilters(t *testing.T) {
	cli, invocations := stubCLI(map[string]string{
		"issue list": `[{"number": 42, "title": "Widget falls over", "state": "OPEN", "author": {"login": "octocat"},
			"createdAt": "2025-03-01T10:00:00Z", "updatedAt": "2025-03-02T11:30:00Z"}]`,
	})

	filters := ghub.ListFilters{State: "open", Labels: []string{"bug"}, Assignee: "octocat"}
	items, err := cli.ListIssues(context.Background(), testRepo, filters)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 42, items[0].Number)

	joined := strings.Join((*invocations)[0], " ")
	assert.Contains(t, joined, "--state open")
	assert.Contains(t, joined, "--label bug")
	assert.Contains(t, joined, "--assignee octocat")
	assert.Contains(t, joined, "--limit 100", "limit defaults when unset")
}

func TestCLIGetRateLimit(t *testing.T) {
	cli, _ := stubCLI(map[string]string{
		"rate_limit": `{"resources": {"core": {"limit": 5000, "remaining": 4321, "reset": 1741957200}}}`,
	})

	snap, err := cli.GetRateLimit(context.Background(), CredentialToken)
	require.NoError(t, err)
	assert.Equal(t, 5000, snap.Limit)
	assert.Equal(t, 4321, snap.Remaining)
	assert.True(t, snap.ResetAt.Equal(time.Unix(1741957200, 0)))
}
