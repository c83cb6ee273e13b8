package forge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestGitHub creates a GitHub provider backed by the given handler.
// The test server is closed automatically when the test finishes.
func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gh, err := NewGitHub(ts.Client(), "test-token", ts.URL, logger)
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	return gh
}

func TestGitHubGetIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/owner/repo/issues/42", func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"number":     42,
			"title":      "Test issue",
			"body":       "Issue body text",
			"state":      "open",
			"html_url":   "https://github.com/owner/repo/issues/42",
			"comments":   3,
			"created_at": "2025-01-15T10:00:00Z",
			"updated_at": "2025-01-16T12:00:00Z",
			"user":       map[string]any{"login": "alice"},
			"labels":     []map[string]any{{"name": "bug"}, {"name": "urgent"}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	issue, err := gh.GetIssue(context.Background(), "owner/repo", 42)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}

	if issue.Number != 42 {
		t.Errorf("Number = %d, want 42", issue.Number)
	}
	if issue.Title != "Test issue" {
		t.Errorf("Title = %q, want %q", issue.Title, "Test issue")
	}
	if issue.Body != "Issue body text" {
		t.Errorf("Body = %q, want %q", issue.Body, "Issue body text")
	}
	if issue.State != "open" {
		t.Errorf("State = %q, want %q", issue.State, "open")
	}
	if issue.Author != "alice" {
		t.Errorf("Author = %q, want %q", issue.Author, "alice")
	}
	if issue.CommentCount != 3 {
		t.Errorf("CommentCount = %d, want 3", issue.CommentCount)
	}
	if len(issue.Labels) != 2 || issue.Labels[0] != "bug" || issue.Labels[1] != "urgent" {
		t.Errorf("Labels = %v, want [bug urgent]", issue.Labels)
	}
}

func TestGitHubCreateIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/owner/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}

		if req["title"] != "New issue" {
			t.Errorf("request title = %q, want %q", req["title"], "New issue")
		}
		if req["body"] != "Issue description" {
			t.Errorf("request body = %q, want %q", req["body"], "Issue description")
		}
		labels, ok := req["labels"].([]any)
		if !ok || len(labels) != 1 || labels[0] != "enhancement" {
			t.Errorf("request labels = %v, want [enhancement]", req["labels"])
		}

		resp := map[string]any{
			"number":     99,
			"title":      "New issue",
			"body":       "Issue description",
			"state":      "open",
			"html_url":   "https://github.com/owner/repo/issues/99",
			"created_at": "2025-01-20T08:00:00Z",
			"updated_at": "2025-01-20T08:00:00Z",
			"user":       map[string]any{"login": "alice"},
			"labels":     []map[string]any{{"name": "enhancement"}},
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	issue, err := gh.CreateIssue(context.Background(), "owner/repo", &Issue{
		Title:  "New issue",
		Body:   "Issue description",
		Labels: []string{"enhancement"},
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}

	if issue.Number != 99 {
		t.Errorf("Number = %d, want 99", issue.Number)
	}
	if issue.Title != "New issue" {
		t.Errorf("Title = %q, want %q", issue.Title, "New issue")
	}
}

func TestGitHubUpdateIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v3/repos/owner/repo/issues/12", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)

		if req["state"] != "closed" {
			t.Errorf("request state = %q, want %q", req["state"], "closed")
		}
		if _, hasTitle := req["title"]; hasTitle {
			t.Errorf("request should not include title, got %v", req["title"])
		}

		resp := map[string]any{
			"number":     12,
			"title":      "Existing issue",
			"state":      "closed",
			"html_url":   "https://github.com/owner/repo/issues/12",
			"created_at": "2025-01-10T00:00:00Z",
			"updated_at": "2025-01-21T00:00:00Z",
			"user":       map[string]any{"login": "alice"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	closed := "closed"
	issue, err := gh.UpdateIssue(context.Background(), "owner/repo", 12, &IssueUpdate{State: &closed})
	if err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if issue.State != "closed" {
		t.Errorf("State = %q, want %q", issue.State, "closed")
	}
}

func TestGitHubListIssues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/owner/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != "open" {
			t.Errorf("state param = %q, want %q", q.Get("state"), "open")
		}
		if q.Get("labels") != "bug" {
			t.Errorf("labels param = %q, want %q", q.Get("labels"), "bug")
		}
		if q.Get("per_page") != "10" {
			t.Errorf("per_page param = %q, want %q", q.Get("per_page"), "10")
		}

		resp := []map[string]any{
			{
				"number":     1,
				"title":      "First",
				"state":      "open",
				"html_url":   "https://github.com/owner/repo/issues/1",
				"created_at": "2025-01-01T00:00:00Z",
				"updated_at": "2025-01-01T00:00:00Z",
				"user":       map[string]any{"login": "alice"},
			},
			{
				"number":     2,
				"title":      "Second",
				"state":      "open",
				"html_url":   "https://github.com/owner/repo/issues/2",
				"created_at": "2025-01-02T00:00:00Z",
				"updated_at": "2025-01-02T00:00:00Z",
				"user":       map[string]any{"login": "bob"},
			},
			// This entry is a PR (has pull_request links) and should be filtered out.
			{
				"number":       3,
				"title":        "A PR",
				"state":        "open",
				"html_url":     "https://github.com/owner/repo/pull/3",
				"created_at":   "2025-01-03T00:00:00Z",
				"updated_at":   "2025-01-03T00:00:00Z",
				"user":         map[string]any{"login": "carol"},
				"pull_request": map[string]any{"url": "https://api.github.com/repos/owner/repo/pulls/3"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	issues, err := gh.ListIssues(context.Background(), "owner/repo", &ListOptions{
		State:  "open",
		Labels: "bug",
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}

	// The PR entry should be filtered out, leaving 2 real issues.
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2 (PR should be filtered)", len(issues))
	}
	if issues[0].Title != "First" {
		t.Errorf("issues[0].Title = %q, want %q", issues[0].Title, "First")
	}
	if issues[1].Title != "Second" {
		t.Errorf("issues[1].Title = %q, want %q", issues[1].Title, "Second")
	}
}

func TestGitHubAddComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/owner/repo/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["body"] != "looks good" {
			t.Errorf("request body = %q, want %q", req["body"], "looks good")
		}

		resp := map[string]any{
			"id":         555,
			"body":       "looks good",
			"html_url":   "https://github.com/owner/repo/issues/42#issuecomment-555",
			"created_at": "2025-01-17T00:00:00Z",
			"user":       map[string]any{"login": "alice"},
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	comment, err := gh.AddComment(context.Background(), "owner/repo", 42, "looks good")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if comment.ID != 555 {
		t.Errorf("ID = %d, want 555", comment.ID)
	}
	if comment.Body != "looks good" {
		t.Errorf("Body = %q, want %q", comment.Body, "looks good")
	}
}

func TestGitHubAuthHeader(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/owner/repo/issues/1", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		resp := map[string]any{
			"number":     1,
			"title":      "Auth test",
			"state":      "open",
			"html_url":   "https://github.com/owner/repo/issues/1",
			"created_at": "2025-01-01T00:00:00Z",
			"updated_at": "2025-01-01T00:00:00Z",
			"user":       map[string]any{"login": "alice"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	gh := newTestGitHub(t, mux)
	_, err := gh.GetIssue(context.Background(), "owner/repo", 1)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		input     string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{"owner/repo", "owner", "repo", false},
		{"org/my-project", "org", "my-project", false},
		{"noslash", "", "", true},
		{"/repo", "", "", true},
		{"owner/", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, name, err := splitRepo(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitRepo(%q) err = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if owner != tt.wantOwner {
				t.Errorf("owner = %q, want %q", owner, tt.wantOwner)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
		})
	}
}
