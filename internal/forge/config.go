package forge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/melocore/internal/httpkit"
)

// Config holds the single forge account the issue-filing plugin uses.
// melocore talks to one repository at a time (SPEC_FULL §2), unlike the
// multi-account registry this package is grounded on.
type Config struct {
	// Token is the personal access token used to authenticate.
	Token string
	// Owner is the repository owner (org or user).
	Owner string
	// Repo is the repository name, without the owner prefix.
	Repo string
	// BaseURL is the API base URL for GitHub Enterprise. Empty selects
	// github.com.
	BaseURL string
}

// Configured reports whether enough information is present to
// authenticate against the forge.
func (c Config) Configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// Repository returns "owner/repo" for use with ForgeProvider calls.
func (c Config) Repository() string {
	return c.Owner + "/" + c.Repo
}

// NewProvider constructs the GitHub-backed ForgeProvider for cfg, using
// the shared httpkit transport for timeouts and retry; the bearer token
// is attached by NewGitHub itself.
func NewProvider(cfg Config, logger *slog.Logger) (ForgeProvider, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("forge: account is not configured (token/owner/repo required)")
	}

	client := httpkit.NewClient(
		httpkit.WithUserAgent("melocore-forge"),
		httpkit.WithRetry(3, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)

	provider, err := NewGitHub(client, cfg.Token, cfg.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: initializing github provider: %w", err)
	}
	return provider, nil
}
