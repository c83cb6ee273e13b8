package forge

import "context"

// ForgeProvider is the interface a forge backend implements. Repository
// parameters use the "owner/repo" format. Trimmed to the issue-filing
// surface this module exercises (plugins/forge); a fuller interface
// could also cover pull requests, reviews, checks, and search.
type ForgeProvider interface {
	// Name returns the provider identifier (e.g., "github").
	Name() string

	// CreateIssue creates a new issue and returns it with the
	// server-assigned number and URL.
	CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error)

	// UpdateIssue applies a partial update to an existing issue.
	// Only non-nil fields in the update are changed.
	UpdateIssue(ctx context.Context, repo string, number int, update *IssueUpdate) (*Issue, error)

	// GetIssue retrieves a single issue by number.
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)

	// ListIssues returns issues matching the given filters.
	ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error)

	// AddComment posts a comment on an issue.
	AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error)
}
