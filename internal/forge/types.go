// Package forge provides a minimal, provider-agnostic interface for
// filing and commenting on issues on a code forge (GitHub). It backs
// the plugins/forge example plugin, demonstrating the dispatch
// checker/parser/hook API against a real third-party API client.
package forge

import "time"

// Issue represents a single issue on a code forge.
type Issue struct {
	// Number is the forge-assigned issue number.
	Number int
	// Title is the issue title.
	Title string
	// Body is the issue description body.
	Body string
	// State is the current state, e.g. "open" or "closed".
	State string
	// Labels lists the label names applied to the issue.
	Labels []string
	// Author is the username of the issue creator.
	Author string
	// CreatedAt is when the issue was created.
	CreatedAt time.Time
	// UpdatedAt is when the issue was last updated.
	UpdatedAt time.Time
	// URL is the web URL of the issue.
	URL string
	// CommentCount is the total number of comments on the issue.
	CommentCount int
}

// IssueUpdate carries the fields to change when updating an issue.
// A nil pointer field means "leave unchanged". A nil slice means "leave unchanged".
type IssueUpdate struct {
	// Title is the new title, or nil to leave unchanged.
	Title *string
	// Body is the new body text, or nil to leave unchanged.
	Body *string
	// State is the new state ("open"/"closed"), or nil to leave unchanged.
	State *string
	// Labels replaces the label set. Nil means leave unchanged.
	Labels []string
}

// Comment represents a comment on an issue.
type Comment struct {
	// ID is the forge-assigned comment identifier.
	ID int64
	// Body is the comment text.
	Body string
	// Author is the username of the comment author.
	Author string
	// CreatedAt is when the comment was posted.
	CreatedAt time.Time
	// URL is the web URL of the comment.
	URL string
}

// ListOptions filters ListIssues.
type ListOptions struct {
	// State filters by state: "open", "closed", or "all".
	State string
	// Labels is a comma-separated list of label names to filter by.
	Labels string
	// Limit caps the number of results returned.
	Limit int
	// Page is the 1-based page number for pagination.
	Page int
}
