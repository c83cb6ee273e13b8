package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"
)

// rateLimitWarningThreshold triggers a log warning when the remaining
// rate limit drops below this value.
const rateLimitWarningThreshold = 100

// GitHub implements [ForgeProvider] for GitHub.com and GitHub Enterprise
// using the google/go-github SDK.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub forge provider. The httpClient should be
// constructed via httpkit.NewClient. If baseURL is non-empty and not
// the default GitHub API URL, Enterprise URLs are configured.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := github.NewClient(httpClient).WithAuthToken(token)

	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise URL: %w", err)
		}
	}

	return &GitHub{client: client, logger: logger}, nil
}

// Name returns "github".
func (g *GitHub) Name() string { return "github" }

// splitRepo splits "owner/repo" into its components.
func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRate logs a warning when the API rate limit is getting low.
func (g *GitHub) checkRate(resp *github.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Rate.Remaining
	if remaining > 0 && remaining < rateLimitWarningThreshold {
		g.logger.Warn("github rate limit low",
			"remaining", remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Format(time.RFC3339),
		)
	}
}

// CreateIssue creates a new issue on the repository.
func (g *GitHub) CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &github.IssueRequest{
		Title: &issue.Title,
		Body:  &issue.Body,
	}
	if len(issue.Labels) > 0 {
		req.Labels = &issue.Labels
	}

	ghIssue, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	g.checkRate(resp)

	return mapGitHubIssue(ghIssue), nil
}

// UpdateIssue applies a partial update to an existing issue.
func (g *GitHub) UpdateIssue(ctx context.Context, repo string, number int, update *IssueUpdate) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &github.IssueRequest{}
	if update.Title != nil {
		req.Title = update.Title
	}
	if update.Body != nil {
		req.Body = update.Body
	}
	if update.State != nil {
		req.State = update.State
	}
	if update.Labels != nil {
		req.Labels = &update.Labels
	}

	ghIssue, resp, err := g.client.Issues.Edit(ctx, owner, name, number, req)
	if err != nil {
		return nil, fmt.Errorf("update issue #%d: %w", number, err)
	}
	g.checkRate(resp)

	return mapGitHubIssue(ghIssue), nil
}

// GetIssue retrieves a single issue by number.
func (g *GitHub) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghIssue, resp, err := g.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	g.checkRate(resp)

	return mapGitHubIssue(ghIssue), nil
}

// ListIssues returns issues matching the given filters.
func (g *GitHub) ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghOpts := &github.IssueListByRepoOptions{
		ListOptions: github.ListOptions{
			PerPage: 30,
			Page:    1,
		},
	}
	if opts != nil {
		if opts.Limit > 0 && opts.Limit <= 100 {
			ghOpts.PerPage = opts.Limit
		}
		if opts.Page > 0 {
			ghOpts.Page = opts.Page
		}
		if opts.State != "" {
			ghOpts.State = opts.State
		}
		if opts.Labels != "" {
			ghOpts.Labels = strings.Split(opts.Labels, ",")
		}
	}

	ghIssues, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, ghOpts)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	g.checkRate(resp)

	issues := make([]*Issue, 0, len(ghIssues))
	for _, gi := range ghIssues {
		// Skip pull requests returned by the issues endpoint.
		if gi.PullRequestLinks != nil {
			continue
		}
		issues = append(issues, mapGitHubIssue(gi))
	}

	return issues, nil
}

// AddComment posts a comment on an issue.
func (g *GitHub) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghComment, resp, err := g.client.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{
		Body: &body,
	})
	if err != nil {
		return nil, fmt.Errorf("add comment to #%d: %w", number, err)
	}
	g.checkRate(resp)

	return mapGitHubComment(ghComment), nil
}

func mapGitHubIssue(gi *github.Issue) *Issue {
	issue := &Issue{
		Number:       gi.GetNumber(),
		Title:        gi.GetTitle(),
		Body:         gi.GetBody(),
		State:        gi.GetState(),
		Author:       gi.GetUser().GetLogin(),
		URL:          gi.GetHTMLURL(),
		CreatedAt:    gi.GetCreatedAt().Time,
		UpdatedAt:    gi.GetUpdatedAt().Time,
		CommentCount: gi.GetComments(),
	}
	for _, l := range gi.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	return issue
}

func mapGitHubComment(gc *github.IssueComment) *Comment {
	return &Comment{
		ID:        gc.GetID(),
		Body:      gc.GetBody(),
		Author:    gc.GetUser().GetLogin(),
		URL:       gc.GetHTMLURL(),
		CreatedAt: gc.GetCreatedAt().Time,
	}
}
