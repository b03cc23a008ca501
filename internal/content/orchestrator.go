// Package content orchestrates batched retrieval of GitHub content through
// the cache tiers: callers ask for a repository and a set of items, and the
// orchestrator serves each item from cache, refreshes exactly the stale
// sub-fields over the transport, or falls back to stale data when the
// transport fails.
package content

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/policy"
	"github.com/cmalloy/hubcache/internal/store"
	"github.com/cmalloy/hubcache/internal/telemetry"
	"github.com/cmalloy/hubcache/internal/transport"
)

const (
	itemCacheCapacity     = 512
	listCacheCapacity     = 64
	negativeCacheCapacity = 256
	minMemoryTTL          = time.Second
)

// ItemRequest names one item a caller wants, with an optional hint of the
// last known upstream modification time
type ItemRequest struct {
	Type      ghub.ContentType `json:"type"`
	Number    int              `json:"number"`
	UpdatedAt *time.Time       `json:"updatedAt,omitempty"`
}

// Request is a batch fetch request
type Request struct {
	Repo  ghub.Repo     `json:"repo"`
	Items []ItemRequest `json:"items,omitempty"`

	// TTL overrides the default TTL table for this request only
	TTL *policy.Override `json:"cacheTtl,omitempty"`

	// IncludeIssues / IncludePulls resolve list queries and merge the
	// discovered numbers into the working set. When the request names no
	// explicit items and no lists, open issues and open pulls are listed
	IncludeIssues *ghub.ListFilters `json:"includeIssues,omitempty"`
	IncludePulls  *ghub.ListFilters `json:"includePulls,omitempty"`

	// IncludeStatuses requests CI status for pull requests
	IncludeStatuses bool `json:"includeStatuses,omitempty"`
}

// Item is one resolved item in a batch result
type Item struct {
	Type   ghub.ContentType `json:"type"`
	Number int              `json:"number"`

	// Cached is true when the item was served without a transport call.
	// Stale marks a cached fallback served after a transport failure
	Cached  bool   `json:"cached"`
	Stale   bool   `json:"stale"`
	Warning string `json:"warning,omitempty"`

	Item           *ghub.Item           `json:"item,omitempty"`
	Comments       []ghub.Comment       `json:"comments,omitempty"`
	ReviewComments []ghub.ReviewComment `json:"reviewComments,omitempty"`
	Status         *ghub.CIStatus       `json:"status,omitempty"`
}

// ItemError is a per-item failure. A request is never all-or-nothing: errors
// attach to the item they belong to
type ItemError struct {
	Type    ghub.ContentType `json:"type"`
	Number  int              `json:"number"`
	Message string           `json:"message"`
	Status  int              `json:"status,omitempty"`

	// Cached marks an error served from the negative cache
	Cached bool `json:"cached,omitempty"`
}

// Metrics counts cache behavior for one batch
type Metrics struct {
	CacheHits   int `json:"cacheHits"`
	CacheMisses int `json:"cacheMisses"`
	Refreshed   int `json:"refreshed"`
	StaleHits   int `json:"staleHits"`
	Warmed      int `json:"warmed"`
	ErrorHits   int `json:"errorHits"`
}

// Result is the response to a batch fetch
type Result struct {
	RequestID string                       `json:"requestId"`
	Items     []Item                       `json:"items"`
	Errors    []ItemError                  `json:"errors"`
	Issues    []ghub.Item                  `json:"issues"`
	Pulls     []ghub.Item                  `json:"pulls"`
	Statuses  map[int]*ghub.CIStatus       `json:"statuses"`
	Meta      Metrics                      `json:"meta"`
	RateLimit *transport.RateLimitSnapshot `json:"rateLimit"`
}

// negativeEntry records a confirmed not-found so repeated lookups fail fast
// without re-invoking the transport
type negativeEntry struct {
	ContentType ghub.ContentType
	Number      int
	Message     string
	HTTPStatus  int
}

// Service is the public entry point of the caching subsystem. All state is
// held in explicitly constructed, injected caches
type Service struct {
	gov       *transport.Governor
	entries   *store.EntryStore
	items     *store.Cache[*store.Record]
	lists     *store.Cache[*store.ListRecord]
	negatives *store.Cache[negativeEntry]
	classify  transport.Classifier
	baseTTLs  policy.TTLTable
	warmer    *Warmer
	tel       *telemetry.Provider
	now       func() time.Time
}

// NewService creates a content service over the given governed transport and
// durable store
func NewService(gov *transport.Governor, entries *store.EntryStore, tel *telemetry.Provider) *Service {
	return &Service{
		gov:       gov,
		entries:   entries,
		items:     store.NewCache[*store.Record](itemCacheCapacity, minMemoryTTL),
		lists:     store.NewCache[*store.ListRecord](listCacheCapacity, minMemoryTTL),
		negatives: store.NewCache[negativeEntry](negativeCacheCapacity, minMemoryTTL),
		classify:  transport.DefaultClassifier,
		baseTTLs:  policy.DefaultTTLs(),
		tel:       tel,
		now:       time.Now,
	}
}

// AttachWarmer connects a warm scheduler: foreground fetches register their
// repositories with it, and warm cycles re-enter this service in warmup mode
func (s *Service) AttachWarmer(w *Warmer) {
	s.warmer = w
	w.fetch = s.fetchBatch
	w.lookup = s.readRecord
	w.ttls = s.baseTTLs
}

// ResetForTesting drops all memory-tier state
func (s *Service) ResetForTesting() {
	s.items.ResetForTesting()
	s.lists.ResetForTesting()
	s.negatives.ResetForTesting()
}

// FetchBatch resolves a batch request in normal (foreground) mode
func (s *Service) FetchBatch(ctx context.Context, req Request) (*Result, error) {
	return s.fetchBatch(ctx, req, false)
}

func (s *Service) fetchBatch(ctx context.Context, req Request, warmup bool) (*Result, error) {
	ttls := s.baseTTLs.Apply(req.TTL)
	res := &Result{
		RequestID: telemetry.NewRequestID(),
		Items:     []Item{},
		Errors:    []ItemError{},
		Issues:    []ghub.Item{},
		Pulls:     []ghub.Item{},
		Statuses:  map[int]*ghub.CIStatus{},
	}

	ctx, span := s.tel.StartBatch(ctx, req.Repo.String(), len(req.Items), warmup)
	defer span.End()

	// Step 1: deduplicate explicit requests, newest hint wins
	working := map[string]ItemRequest{}
	for _, ir := range req.Items {
		mergeRequest(working, ir)
	}

	// Step 2: resolve list queries and merge discovered numbers. With no
	// explicit items and no lists configured, default to open issues and
	// open pull requests
	includeIssues, includePulls := req.IncludeIssues, req.IncludePulls
	if len(req.Items) == 0 && includeIssues == nil && includePulls == nil {
		open := ghub.ListFilters{State: "open"}
		includeIssues, includePulls = &open, &open
	}
	if includeIssues != nil {
		res.Issues = s.resolveList(ctx, req.Repo, ghub.TypeIssueList, *includeIssues, ttls, res)
		for _, item := range res.Issues {
			updatedAt := item.UpdatedAt
			mergeRequest(working, ItemRequest{Type: ghub.TypeIssue, Number: item.Number, UpdatedAt: &updatedAt})
		}
	}
	if includePulls != nil {
		res.Pulls = s.resolveList(ctx, req.Repo, ghub.TypePullList, *includePulls, ttls, res)
		for _, item := range res.Pulls {
			updatedAt := item.UpdatedAt
			mergeRequest(working, ItemRequest{Type: ghub.TypePull, Number: item.Number, UpdatedAt: &updatedAt})
		}
	}

	ordered := make([]ItemRequest, 0, len(working))
	for _, ir := range working {
		ordered = append(ordered, ir)
	}
	slices.SortFunc(ordered, func(a, b ItemRequest) int {
		if a.Type != b.Type {
			if a.Type < b.Type {
				return -1
			}
			return 1
		}
		return a.Number - b.Number
	})

	// Step 3: per-item policy evaluation and fetch. Warm passes evaluate
	// slightly in the future so entries inside the expiry threshold refresh
	// now instead of on the next foreground read
	evalAt := s.now()
	if warmup {
		evalAt = evalAt.Add(defaultExpiryThreshold)
	}
	var statusOnly []ItemRequest
	for _, ir := range ordered {
		rec := s.readRecord(req.Repo, ir.Type, ir.Number)
		wantStatus := req.IncludeStatuses && ir.Type == ghub.TypePull
		plan := policy.Evaluate(ir.Type, rec, ir.UpdatedAt, wantStatus, ttls, evalAt)

		switch {
		case rec != nil && !plan.NeedsFetch():
			res.Meta.CacheHits++
			s.emit(res, rec, true, false, "", wantStatus)

		case rec == nil && s.negativeHit(res, req.Repo, ir):
			// emitted by negativeHit

		case rec != nil && plan.Status && !plan.Item && !plan.Comments && !plan.ReviewComments:
			// Only CI status is stale; amortize into one batched call below
			statusOnly = append(statusOnly, ir)

		default:
			s.fetchItem(ctx, req.Repo, ir, rec, plan, ttls, res, warmup, wantStatus)
		}
	}

	// Step 4: one batched status call for status-only refreshes
	if len(statusOnly) > 0 {
		s.refreshStatusBatch(ctx, req.Repo, statusOnly, ttls, res, warmup)
	}

	// Step 5: register with the warm scheduler. Warm-triggered calls never
	// re-register, so warming cannot recursively extend tracking
	if !warmup && s.warmer != nil {
		s.warmer.Track(req.Repo, ordered)
	}

	res.RateLimit = s.gov.Snapshot()
	telemetry.RecordBatchMetrics(span, res.Meta.CacheHits, res.Meta.CacheMisses,
		res.Meta.Refreshed, res.Meta.StaleHits, res.Meta.Warmed, res.Meta.ErrorHits)
	return res, nil
}

// mergeRequest deduplicates by (type, number), keeping the newest hint
func mergeRequest(working map[string]ItemRequest, ir ItemRequest) {
	key := fmt.Sprintf("%s-%d", ir.Type, ir.Number)
	existing, ok := working[key]
	if !ok {
		working[key] = ir
		return
	}
	if ir.UpdatedAt != nil && (existing.UpdatedAt == nil || ir.UpdatedAt.After(*existing.UpdatedAt)) {
		working[key] = ir
	}
}

// negativeHit serves a cached not-found, if one exists, and reports whether
// it did
func (s *Service) negativeHit(res *Result, repo ghub.Repo, ir ItemRequest) bool {
	key := store.ItemKey(repo, ir.Type, ir.Number)
	neg, ok := s.negatives.Get(key)
	if !ok {
		return false
	}
	res.Meta.ErrorHits++
	res.Errors = append(res.Errors, ItemError{
		Type:    ir.Type,
		Number:  ir.Number,
		Message: neg.Message,
		Status:  neg.HTTPStatus,
		Cached:  true,
	})
	return true
}

// readRecord reads through the memory tier to the durable store, promoting
// disk hits into memory
func (s *Service) readRecord(repo ghub.Repo, contentType ghub.ContentType, number int) *store.Record {
	key := store.ItemKey(repo, contentType, number)
	if rec, ok := s.items.Get(key); ok {
		return rec
	}
	rec, ok := s.entries.Read(key)
	if !ok {
		return nil
	}
	s.items.Put(key, rec, s.baseTTLs.Item)
	return rec
}

// writeRecord persists a record to both tiers. Durable-store failures are
// logged and swallowed: an unwritable cache degrades performance, not
// correctness
func (s *Service) writeRecord(repo ghub.Repo, rec *store.Record, ttls policy.TTLTable) {
	key := store.ItemKey(repo, rec.ContentType, rec.Number)
	if err := s.entries.Write(key, rec); err != nil {
		log.Printf("[content] failed to persist %s: %v", key, err)
	}
	s.items.Put(key, rec, ttls.Item)
}

// fetchItem refreshes exactly the stale sub-fields of one item, merging with
// still-fresh cached fields, and decides the per-item outcome on failure
func (s *Service) fetchItem(ctx context.Context, repo ghub.Repo, ir ItemRequest, cached *store.Record, plan policy.Plan, ttls policy.TTLTable, res *Result, warmup, wantStatus bool) {
	now := s.now()

	merged := store.Record{
		ContentType: ir.Type,
		Number:      ir.Number,
		Repo:        repo,
	}
	if cached != nil {
		merged = *cached
	}

	var ferr error
	if plan.Item {
		var item *ghub.Item
		if ir.Type == ghub.TypePull {
			item, ferr = s.gov.GetPullRequest(ctx, repo, ir.Number)
		} else {
			item, ferr = s.gov.GetIssue(ctx, repo, ir.Number)
		}
		if ferr == nil {
			merged.Item = item
			merged.UpdatedAt = item.UpdatedAt
			merged.ItemFetchedAt = now
		}
	}
	if ferr == nil && plan.Comments {
		var comments []ghub.Comment
		if ir.Type == ghub.TypePull {
			comments, ferr = s.gov.ListPullRequestComments(ctx, repo, ir.Number)
		} else {
			comments, ferr = s.gov.ListIssueComments(ctx, repo, ir.Number)
		}
		if ferr == nil {
			if comments == nil {
				comments = []ghub.Comment{}
			}
			merged.Comments = comments
			merged.CommentsFetchedAt = now
		}
	}
	if ferr == nil && plan.ReviewComments {
		var reviewComments []ghub.ReviewComment
		reviewComments, ferr = s.gov.ListReviewComments(ctx, repo, ir.Number)
		if ferr == nil {
			merged.ReviewComments = reviewComments
			fetchedAt := now
			merged.ReviewCommentsFetchedAt = &fetchedAt
		}
	}
	if ferr == nil && plan.Status {
		var status *ghub.CIStatus
		status, ferr = s.gov.GetStatus(ctx, repo, ir.Number)
		if ferr == nil {
			merged.StatusSummary = status
			fetchedAt := now
			merged.StatusFetchedAt = &fetchedAt
		}
	}

	if ferr != nil {
		s.handleFetchError(repo, ir, cached, ferr, ttls, res, wantStatus)
		return
	}

	s.writeRecord(repo, &merged, ttls)
	s.negatives.Delete(store.ItemKey(repo, ir.Type, ir.Number))

	if cached == nil {
		res.Meta.CacheMisses++
	}
	if warmup {
		res.Meta.Warmed++
	} else {
		res.Meta.Refreshed++
	}
	s.emit(res, &merged, false, false, "", wantStatus)
}

// handleFetchError prefers stale-but-present over failed: a cached record is
// always served, flagged stale, before an error is surfaced
func (s *Service) handleFetchError(repo ghub.Repo, ir ItemRequest, cached *store.Record, ferr error, ttls policy.TTLTable, res *Result, wantStatus bool) {
	if cached != nil {
		log.Printf("[content] serving stale %s #%d after transport failure: %v", ir.Type, ir.Number, ferr)
		res.Meta.StaleHits++
		s.emit(res, cached, true, true, fmt.Sprintf("refresh failed, serving stale data: %v", ferr), wantStatus)
		return
	}

	kind := transport.ClassifyError(s.classify, ferr)
	if kind == transport.KindNotFound {
		key := store.ItemKey(repo, ir.Type, ir.Number)
		s.negatives.Put(key, negativeEntry{
			ContentType: ir.Type,
			Number:      ir.Number,
			Message:     ferr.Error(),
			HTTPStatus:  404,
		}, ttls.Negative)
		res.Errors = append(res.Errors, ItemError{Type: ir.Type, Number: ir.Number, Message: ferr.Error(), Status: 404})
		return
	}

	res.Errors = append(res.Errors, ItemError{Type: ir.Type, Number: ir.Number, Message: ferr.Error()})
}

// refreshStatusBatch updates CI status for items whose other fields are
// fresh, using a single batched transport call
func (s *Service) refreshStatusBatch(ctx context.Context, repo ghub.Repo, items []ItemRequest, ttls policy.TTLTable, res *Result, warmup bool) {
	numbers := make([]int, len(items))
	for i, ir := range items {
		numbers[i] = ir.Number
	}

	statuses, err := s.gov.GetStatusBatch(ctx, repo, numbers)
	if err != nil {
		log.Printf("[content] batched status refresh failed for %s: %v", repo, err)
		for _, ir := range items {
			if rec := s.readRecord(repo, ir.Type, ir.Number); rec != nil {
				res.Meta.StaleHits++
				s.emit(res, rec, true, true, fmt.Sprintf("status refresh failed, serving stale data: %v", err), true)
			}
		}
		return
	}

	now := s.now()
	for _, ir := range items {
		rec := s.readRecord(repo, ir.Type, ir.Number)
		if rec == nil {
			continue
		}
		updated := *rec
		updated.StatusSummary = statuses[ir.Number]
		fetchedAt := now
		updated.StatusFetchedAt = &fetchedAt
		s.writeRecord(repo, &updated, ttls)

		if warmup {
			res.Meta.Warmed++
		} else {
			res.Meta.Refreshed++
		}
		s.emit(res, &updated, false, false, "", true)
	}
}

// emit appends a record to the result, exposing its status when requested
func (s *Service) emit(res *Result, rec *store.Record, cached, stale bool, warning string, wantStatus bool) {
	res.Items = append(res.Items, Item{
		Type:           rec.ContentType,
		Number:         rec.Number,
		Cached:         cached,
		Stale:          stale,
		Warning:        warning,
		Item:           rec.Item,
		Comments:       rec.Comments,
		ReviewComments: rec.ReviewComments,
		Status:         rec.StatusSummary,
	})
	if wantStatus && rec.ContentType == ghub.TypePull {
		res.Statuses[rec.Number] = rec.StatusSummary
	}
}

// resolveList serves one list query through its own TTL-gated cache
func (s *Service) resolveList(ctx context.Context, repo ghub.Repo, listType ghub.ContentType, filters ghub.ListFilters, ttls policy.TTLTable, res *Result) []ghub.Item {
	key := store.ListKey(repo, listType, filters)
	now := s.now()

	cached, ok := s.lists.Get(key)
	if !ok {
		cached, ok = s.entries.ReadList(key)
		if ok {
			s.lists.Put(key, cached, ttls.List)
		}
	}
	if ok && ttls.List > 0 && now.Sub(cached.FetchedAt) <= ttls.List {
		return cached.Items
	}

	var items []ghub.Item
	var err error
	if listType == ghub.TypePullList {
		items, err = s.gov.ListPullRequests(ctx, repo, filters)
	} else {
		items, err = s.gov.ListIssues(ctx, repo, filters)
	}
	if err != nil {
		if ok {
			log.Printf("[content] %s query failed for %s, serving stale list: %v", listType, repo, err)
			return cached.Items
		}
		res.Errors = append(res.Errors, ItemError{Type: listType, Message: err.Error()})
		return []ghub.Item{}
	}
	if items == nil {
		items = []ghub.Item{}
	}

	rec := &store.ListRecord{
		ContentType: listType,
		Repo:        repo,
		ParamsHash:  store.ParamsHash(filters),
		FetchedAt:   now,
		Items:       items,
	}
	if werr := s.entries.WriteList(key, rec); werr != nil {
		log.Printf("[content] failed to persist list %s: %v", key, werr)
	}
	s.lists.Put(key, rec, ttls.List)
	return items
}
