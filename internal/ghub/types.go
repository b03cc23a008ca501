// Package ghub defines the GitHub value types shared by the cache, policy,
// and transport layers. These are deliberately plain structs with stable JSON
// shapes: cached records are persisted to disk and must survive across
// process versions.
package ghub

import (
	"fmt"
	"time"
)

// ContentType identifies the kind of content a cache record holds.
type ContentType string

const (
	TypeIssue ContentType = "issue"
	TypePull  ContentType = "pull"

	// List records are cached independently of per-item records
	TypeIssueList ContentType = "issue-list"
	TypePullList  ContentType = "pull-list"
)

// Repo identifies a GitHub repository
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r Repo) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Item is an issue or pull request body. Pull requests carry a few extra
// fields; for issues those fields are zero and omitted from JSON
type Item struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Author string `json:"author"`
	URL    string `json:"url"`

	Labels []string `json:"labels,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`

	// Pull request fields
	HeadRef  string     `json:"headRef,omitempty"`
	BaseRef  string     `json:"baseRef,omitempty"`
	HeadSHA  string     `json:"headSHA,omitempty"`
	Draft    bool       `json:"draft,omitempty"`
	Merged   bool       `json:"merged,omitempty"`
	MergedAt *time.Time `json:"mergedAt,omitempty"`
}

// Comment is a top-level comment on an issue or pull request
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReviewComment is an inline code review comment on a pull request
type ReviewComment struct {
	Comment

	Path      string `json:"path"`
	Line      int    `json:"line,omitempty"`
	InReplyTo int64  `json:"inReplyTo,omitempty"`
}

// ListFilters constrain a list query. The zero value lists open items with
// the default limit
type ListFilters struct {
	State    string   `json:"state,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}
