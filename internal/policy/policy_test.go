package policy

import (
	"testing"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// freshRecord returns a record with every field fetched at testNow
func freshRecord(contentType ghub.ContentType) *store.Record {
	fetchedAt := testNow
	rec := &store.Record{
		ContentType:       contentType,
		Number:            42,
		Repo:              ghub.Repo{Owner: "acme", Name: "widgets"},
		UpdatedAt:         testNow.Add(-time.Hour),
		ItemFetchedAt:     testNow,
		CommentsFetchedAt: testNow,
	}
	if contentType == ghub.TypePull {
		rec.ReviewCommentsFetchedAt = &fetchedAt
		rec.StatusFetchedAt = &fetchedAt
	}
	return rec
}

func TestEvaluateNoRecord(t *testing.T) {
	ttls := DefaultTTLs()

	plan := Evaluate(ghub.TypePull, nil, nil, true, ttls, testNow)
	assert.Equal(t, Plan{Item: true, Comments: true, ReviewComments: true, Status: true}, plan)

	plan = Evaluate(ghub.TypeIssue, nil, nil, true, ttls, testNow)
	assert.Equal(t, Plan{Item: true, Comments: true}, plan, "issues have no review comments or status")

	plan = Evaluate(ghub.TypePull, nil, nil, false, ttls, testNow)
	assert.False(t, plan.Status, "status is only planned when requested")
}

func TestEvaluateFreshRecord(t *testing.T) {
	plan := Evaluate(ghub.TypePull, freshRecord(ghub.TypePull), nil, true, DefaultTTLs(), testNow.Add(30*time.Second))
	assert.False(t, plan.NeedsFetch())
}

func TestEvaluateHintForcesRefreshTogether(t *testing.T) {
	rec := freshRecord(ghub.TypePull)
	hint := rec.UpdatedAt.Add(time.Minute)

	plan := Evaluate(ghub.TypePull, rec, &hint, true, DefaultTTLs(), testNow)
	assert.True(t, plan.Item)
	assert.True(t, plan.Comments, "a newer upstream hint marks comments stale with the item")
	assert.True(t, plan.ReviewComments)
	assert.False(t, plan.Status, "the hint does not implicate CI status")

	// Issues: the hint never implicates review comments
	issueRec := freshRecord(ghub.TypeIssue)
	issueHint := issueRec.UpdatedAt.Add(time.Minute)
	plan = Evaluate(ghub.TypeIssue, issueRec, &issueHint, false, DefaultTTLs(), testNow)
	assert.True(t, plan.Item)
	assert.True(t, plan.Comments)
	assert.False(t, plan.ReviewComments)
}

func TestEvaluateHintNotNewer(t *testing.T) {
	rec := freshRecord(ghub.TypeIssue)

	// A hint equal to the cached updatedAt is not "newer"
	hint := rec.UpdatedAt
	plan := Evaluate(ghub.TypeIssue, rec, &hint, false, DefaultTTLs(), testNow)
	assert.False(t, plan.NeedsFetch())
}

func TestEvaluatePerFieldExpiry(t *testing.T) {
	ttls := DefaultTTLs()
	rec := freshRecord(ghub.TypePull)
	old := testNow.Add(-10 * time.Minute)
	rec.CommentsFetchedAt = old

	plan := Evaluate(ghub.TypePull, rec, nil, true, ttls, testNow)
	assert.Equal(t, Plan{Comments: true}, plan, "only the expired field is refetched")

	// Status has the shortest default TTL
	staleStatus := testNow.Add(-90 * time.Second)
	rec = freshRecord(ghub.TypePull)
	rec.StatusFetchedAt = &staleStatus
	plan = Evaluate(ghub.TypePull, rec, nil, true, ttls, testNow)
	assert.Equal(t, Plan{Status: true}, plan)
}

func TestEvaluateZeroTTLAlwaysRefreshes(t *testing.T) {
	ttls := DefaultTTLs()
	ttls.Item = 0

	plan := Evaluate(ghub.TypeIssue, freshRecord(ghub.TypeIssue), nil, false, ttls, testNow)
	assert.True(t, plan.Item, "a zero TTL bypasses the cache")
	assert.False(t, plan.Comments)
}

func TestEvaluateMissingOptionalTimestamps(t *testing.T) {
	rec := freshRecord(ghub.TypePull)
	rec.ReviewCommentsFetchedAt = nil
	rec.StatusFetchedAt = nil

	plan := Evaluate(ghub.TypePull, rec, nil, true, DefaultTTLs(), testNow)
	assert.True(t, plan.ReviewComments, "never-fetched fields are stale")
	assert.True(t, plan.Status)
}

func TestApplyOverride(t *testing.T) {
	base := DefaultTTLs()

	require.Equal(t, base, base.Apply(nil))

	all := 30 * time.Second
	status := 10 * time.Second
	got := base.Apply(&Override{All: &all, Status: &status})
	assert.Equal(t, all, got.Item)
	assert.Equal(t, all, got.Comments)
	assert.Equal(t, all, got.ReviewComments)
	assert.Equal(t, all, got.List)
	assert.Equal(t, status, got.Status, "per-field override wins over All")
	assert.Equal(t, base.Negative, got.Negative, "negative TTL is not request-overridable")
}

func TestNearExpiry(t *testing.T) {
	ttls := DefaultTTLs()
	rec := freshRecord(ghub.TypeIssue)

	// Item TTL is 5m; at 4m40s a 30s threshold puts it over the edge
	at := testNow.Add(4*time.Minute + 40*time.Second)
	assert.True(t, NearExpiry(rec, ttls, at, 30*time.Second))
	assert.False(t, NearExpiry(rec, ttls, testNow.Add(time.Minute), 30*time.Second))
}
