// Package policy decides which sub-resources of a cached item must be
// refetched. It is pure decision logic with no I/O: the orchestrator derives
// every transport call from the plan produced here, and nothing else
// recomputes staleness.
package policy

import (
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/store"
)

// TTLTable holds the maximum age per cached field category. A TTL of exactly
// zero always forces a refresh for that category
type TTLTable struct {
	Item           time.Duration
	Comments       time.Duration
	ReviewComments time.Duration
	Status         time.Duration
	List           time.Duration
	Negative       time.Duration
}

// DefaultTTLs are tuned for an actively polled dashboard: item bodies and
// comments change rarely relative to CI status
func DefaultTTLs() TTLTable {
	return TTLTable{
		Item:           5 * time.Minute,
		Comments:       5 * time.Minute,
		ReviewComments: 5 * time.Minute,
		Status:         time.Minute,
		List:           2 * time.Minute,
		Negative:       10 * time.Minute,
	}
}

// Override adjusts a TTL table at the request boundary. All applies
// uniformly to every category; per-field values win over All. Callers supply
// either shape; internal code only ever sees the normalized table
type Override struct {
	All            *time.Duration `json:"all,omitempty"`
	Item           *time.Duration `json:"item,omitempty"`
	Comments       *time.Duration `json:"comments,omitempty"`
	ReviewComments *time.Duration `json:"reviewComments,omitempty"`
	Status         *time.Duration `json:"status,omitempty"`
	List           *time.Duration `json:"list,omitempty"`
}

// Apply normalizes an override against the base table. A nil override
// returns the base unchanged
func (t TTLTable) Apply(o *Override) TTLTable {
	if o == nil {
		return t
	}
	if o.All != nil {
		t.Item = *o.All
		t.Comments = *o.All
		t.ReviewComments = *o.All
		t.Status = *o.All
		t.List = *o.All
	}
	if o.Item != nil {
		t.Item = *o.Item
	}
	if o.Comments != nil {
		t.Comments = *o.Comments
	}
	if o.ReviewComments != nil {
		t.ReviewComments = *o.ReviewComments
	}
	if o.Status != nil {
		t.Status = *o.Status
	}
	if o.List != nil {
		t.List = *o.List
	}
	return t
}

// Plan lists the sub-resources that must be refetched for one item
type Plan struct {
	Item           bool
	Comments       bool
	ReviewComments bool
	Status         bool
}

// NeedsFetch reports whether any sub-resource requires a transport call
func (p Plan) NeedsFetch() bool {
	return p.Item || p.Comments || p.ReviewComments || p.Status
}

// Evaluate produces the refresh plan for one item.
//
// Rules, per resource:
//   - no cached record: every applicable field needs fetching
//   - a hint strictly newer than the cached updatedAt marks the item body
//     stale, which forces comments and review comments stale with it (they
//     are assumed to have changed together)
//   - independently, each field is stale once its fetched-at exceeds its TTL
//   - CI status is only evaluated when the caller requested status at all
//
// Review comments and status apply to pull requests only
func Evaluate(contentType ghub.ContentType, rec *store.Record, hint *time.Time, wantStatus bool, ttls TTLTable, now time.Time) Plan {
	isPull := contentType == ghub.TypePull

	if rec == nil {
		return Plan{
			Item:           true,
			Comments:       true,
			ReviewComments: isPull,
			Status:         isPull && wantStatus,
		}
	}

	var plan Plan

	if hint != nil && hint.After(rec.UpdatedAt) {
		plan.Item = true
		plan.Comments = true
		plan.ReviewComments = isPull
	}

	if expired(rec.ItemFetchedAt, ttls.Item, now) {
		plan.Item = true
	}
	if expired(rec.CommentsFetchedAt, ttls.Comments, now) {
		plan.Comments = true
	}
	if isPull && expiredPtr(rec.ReviewCommentsFetchedAt, ttls.ReviewComments, now) {
		plan.ReviewComments = true
	}
	if isPull && wantStatus && expiredPtr(rec.StatusFetchedAt, ttls.Status, now) {
		plan.Status = true
	}

	return plan
}

// NearExpiry reports whether any applicable field of rec will be stale within
// the threshold window. The warm scheduler uses this as its cache-only
// pre-check
func NearExpiry(rec *store.Record, ttls TTLTable, now time.Time, threshold time.Duration) bool {
	plan := Evaluate(rec.ContentType, rec, nil, false, ttls, now.Add(threshold))
	return plan.NeedsFetch()
}

func expired(fetchedAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl == 0 {
		return true
	}
	return now.Sub(fetchedAt) > ttl
}

func expiredPtr(fetchedAt *time.Time, ttl time.Duration, now time.Time) bool {
	if fetchedAt == nil {
		return true
	}
	return expired(*fetchedAt, ttl, now)
}
