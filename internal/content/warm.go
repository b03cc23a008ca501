package content

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
	"github.com/cmalloy/hubcache/internal/policy"
	"github.com/cmalloy/hubcache/internal/store"
)

const (
	defaultRecencyWindow   = 10 * time.Minute
	defaultExpiryThreshold = 30 * time.Second
	defaultMinHits         = 2
)

// Warmer proactively refreshes recently accessed repositories before their
// cached entries expire, so foreground reads keep hitting warm cache.
//
// Every foreground fetch registers its repository and items via Track. A
// periodic cycle then picks repositories that are recently accessed and
// accessed often enough, and refreshes only the tracked items that are stale
// or about to go stale. Warm fetches run in warmup mode: they never request
// CI status and never re-register, so warming cannot keep itself alive
type Warmer struct {
	interval        time.Duration
	recencyWindow   time.Duration
	expiryThreshold time.Duration
	minHits         int
	now             func() time.Time

	// wired by Service.AttachWarmer
	fetch  func(ctx context.Context, req Request, warmup bool) (*Result, error)
	lookup func(repo ghub.Repo, contentType ghub.ContentType, number int) *store.Record
	ttls   policy.TTLTable

	mu    sync.Mutex
	repos map[string]*warmRecord
}

type warmRecord struct {
	repo       ghub.Repo
	tracked    map[string]ItemRequest
	lastAccess time.Time
	hitCount   int
	inFlight   bool
}

// NewWarmer creates a warm scheduler that cycles on the given interval
func NewWarmer(interval time.Duration) *Warmer {
	return &Warmer{
		interval:        interval,
		recencyWindow:   defaultRecencyWindow,
		expiryThreshold: defaultExpiryThreshold,
		minHits:         defaultMinHits,
		now:             time.Now,
		repos:           map[string]*warmRecord{},
	}
}

// Track registers a foreground access to repo and the items it touched
func (w *Warmer) Track(repo ghub.Repo, items []ItemRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.repos[repo.String()]
	if !ok {
		rec = &warmRecord{repo: repo, tracked: map[string]ItemRequest{}}
		w.repos[repo.String()] = rec
	}
	rec.lastAccess = w.now()
	rec.hitCount++
	for _, ir := range items {
		key := itemTrackKey(ir)
		rec.tracked[key] = ItemRequest{Type: ir.Type, Number: ir.Number}
	}
}

func itemTrackKey(ir ItemRequest) string {
	return fmt.Sprintf("%s-%d", ir.Type, ir.Number)
}

// Run drives warm cycles until ctx is cancelled
func (w *Warmer) Run(ctx context.Context) {
	log.Printf("[warm] scheduler started, interval %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[warm] scheduler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// cycle garbage-collects cold repositories and warms the eligible ones
func (w *Warmer) cycle(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	var eligible []*warmRecord
	for key, rec := range w.repos {
		if now.Sub(rec.lastAccess) > w.recencyWindow {
			delete(w.repos, key)
			continue
		}
		if rec.inFlight || rec.hitCount < w.minHits {
			continue
		}
		rec.inFlight = true
		eligible = append(eligible, rec)
	}
	w.mu.Unlock()

	for _, rec := range eligible {
		go w.warmRepo(ctx, rec)
	}
}

// warmRepo refreshes the tracked items of one repository that are stale or
// within the expiry threshold. The pre-check is cache-only: items never
// cached are left alone so warming does not fetch on behalf of nobody
func (w *Warmer) warmRepo(ctx context.Context, rec *warmRecord) {
	defer func() {
		w.mu.Lock()
		rec.inFlight = false
		rec.hitCount = 0
		w.mu.Unlock()
	}()

	w.mu.Lock()
	tracked := make([]ItemRequest, 0, len(rec.tracked))
	for _, ir := range rec.tracked {
		tracked = append(tracked, ir)
	}
	w.mu.Unlock()

	now := w.now()
	var candidates []ItemRequest
	for _, ir := range tracked {
		cached := w.lookup(rec.repo, ir.Type, ir.Number)
		if cached == nil {
			continue
		}
		if policy.NearExpiry(cached, w.ttls, now, w.expiryThreshold) {
			candidates = append(candidates, ir)
		}
	}
	if len(candidates) == 0 {
		return
	}

	log.Printf("[warm] refreshing %d items in %s", len(candidates), rec.repo)
	res, err := w.fetch(ctx, Request{Repo: rec.repo, Items: candidates}, true)
	if err != nil {
		log.Printf("[warm] warm cycle for %s failed: %v", rec.repo, err)
		return
	}
	if len(res.Errors) > 0 {
		log.Printf("[warm] warmed %d items in %s, %d errors", res.Meta.Warmed, rec.repo, len(res.Errors))
	}
}
