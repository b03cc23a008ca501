// Package store persists cache records. A durable entry store keeps one JSON
// file per cached item and is authoritative across process restarts; a
// bounded in-memory cache fronts it to keep hot reads off the disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cmalloy/hubcache/internal/ghub"
)

// SchemaVersion is bumped whenever the record layout changes incompatibly.
// Records with any other version read as absent, forcing a refetch; a stale
// record is never partially trusted
const SchemaVersion = 2

// Record is the cached content for one (repo, contentType, number). Payload
// fields are only present together with their fetched-at timestamps
type Record struct {
	SchemaVersion int              `json:"schemaVersion"`
	ContentType   ghub.ContentType `json:"contentType"`
	Number        int              `json:"number"`
	Repo          ghub.Repo        `json:"repo"`

	// UpdatedAt is the upstream last-modified time used for freshness
	// comparisons against caller hints
	UpdatedAt time.Time `json:"updatedAt"`

	ItemFetchedAt           time.Time  `json:"itemFetchedAt"`
	CommentsFetchedAt       time.Time  `json:"commentsFetchedAt"`
	ReviewCommentsFetchedAt *time.Time `json:"reviewCommentsFetchedAt,omitempty"`
	StatusFetchedAt         *time.Time `json:"statusFetchedAt,omitempty"`

	Item           *ghub.Item           `json:"item,omitempty"`
	Comments       []ghub.Comment       `json:"comments"`
	ReviewComments []ghub.ReviewComment `json:"reviewComments,omitempty"`
	StatusSummary  *ghub.CIStatus       `json:"statusSummary,omitempty"`
}

// ListRecord caches the result of one list query, independently of per-item
// records
type ListRecord struct {
	SchemaVersion int              `json:"schemaVersion"`
	ContentType   ghub.ContentType `json:"contentType"`
	Repo          ghub.Repo        `json:"repo"`
	ParamsHash    string           `json:"paramsHash"`
	FetchedAt     time.Time        `json:"fetchedAt"`
	Items         []ghub.Item      `json:"items"`
}

// EntryStore reads and writes records as whole JSON files under a root
// directory. It never surfaces read errors: missing, corrupt, and
// version-mismatched files all read as absent so callers fail open to a
// refetch
type EntryStore struct {
	root string
}

// NewEntryStore creates a store rooted at dir. The directory is created
// lazily on first write
func NewEntryStore(dir string) *EntryStore {
	return &EntryStore{root: dir}
}

// DefaultDir returns the operator-overridable default cache root
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "hubcache")
}

// ItemKey derives the store key for one item. Filesystem-unsafe characters
// in the owner and repo name are sanitized
func ItemKey(repo ghub.Repo, contentType ghub.ContentType, number int) string {
	return filepath.Join(sanitize(repo.Owner), sanitize(repo.Name), fmt.Sprintf("%s-%d.json", contentType, number))
}

// ListKey derives the store key for one list query, incorporating a stable
// hash of the query parameters
func ListKey(repo ghub.Repo, contentType ghub.ContentType, filters ghub.ListFilters) string {
	return filepath.Join(sanitize(repo.Owner), sanitize(repo.Name), "_lists", fmt.Sprintf("%s-%s.json", contentType, ParamsHash(filters)))
}

// ParamsHash returns a stable hash of list query parameters
func ParamsHash(filters ghub.ListFilters) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "state=%s&labels=%s&assignee=%s&limit=%d",
		filters.State, strings.Join(filters.Labels, ","), filters.Assignee, filters.Limit)
	return fmt.Sprintf("%016x", h.Sum64())
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Read returns the record at key, or absent. Corrupt and mismatched records
// are treated identically to missing ones
func (s *EntryStore) Read(key string) (*Record, bool) {
	var rec Record
	if !s.readJSON(key, &rec) {
		return nil, false
	}
	if rec.SchemaVersion != SchemaVersion {
		log.Printf("[store] schema version %d != %d for %s, treating as absent", rec.SchemaVersion, SchemaVersion, key)
		return nil, false
	}
	return &rec, true
}

// Write persists a record as a whole-file overwrite, creating parent
// directories on demand. Writing an identical record twice produces
// byte-identical files
func (s *EntryStore) Write(key string, rec *Record) error {
	rec.SchemaVersion = SchemaVersion
	return s.writeJSON(key, rec)
}

// ReadList returns the list record at key, or absent
func (s *EntryStore) ReadList(key string) (*ListRecord, bool) {
	var rec ListRecord
	if !s.readJSON(key, &rec) {
		return nil, false
	}
	if rec.SchemaVersion != SchemaVersion {
		log.Printf("[store] schema version %d != %d for %s, treating as absent", rec.SchemaVersion, SchemaVersion, key)
		return nil, false
	}
	return &rec, true
}

// WriteList persists a list record
func (s *EntryStore) WriteList(key string, rec *ListRecord) error {
	rec.SchemaVersion = SchemaVersion
	return s.writeJSON(key, rec)
}

func (s *EntryStore) readJSON(key string, target any) bool {
	b, err := os.ReadFile(filepath.Join(s.root, key))
	if errors.Is(err, os.ErrNotExist) {
		return false
	} else if err != nil {
		log.Printf("[store] failed to read %s, treating as absent: %v", key, err)
		return false
	}
	if err := json.Unmarshal(b, target); err != nil {
		log.Printf("[store] corrupt record %s, treating as absent: %v", key, err)
		return false
	}
	return true
}

func (s *EntryStore) writeJSON(key string, value any) error {
	path := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
