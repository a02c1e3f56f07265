package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/classify"
)

func pageRequest(endpoint string) domain.PageRequest {
	return domain.PageRequest{
		Tenant:   domain.Tenant{ID: "t1", Token: "secret", Endpoint: endpoint},
		Unit:     domain.SyncUnit{ID: "u1", TenantID: "t1", Owner: "octo", Name: "repo"},
		Category: domain.CategoryIssues,
		Mode:     domain.ModeBackfill,
		PageSize: 3,
	}
}

const pageBody = `{
  "data": {
    "rateLimit": {"cost": 1, "remaining": 4321, "limit": 5000, "resetAt": "2030-01-01T00:00:00Z"},
    "repository": {
      "items": {
        "pageInfo": {"hasNextPage": true, "endCursor": "Y3Vyc29yOjM="},
        "nodes": [
          {"id": "I_3", "number": 30, "title": "c", "state": "OPEN", "createdAt": "2024-01-03T00:00:00Z", "updatedAt": "2024-02-03T00:00:00Z", "author": {"login": "alice"}},
          {"id": "I_2", "number": 20, "title": "b", "state": "CLOSED", "createdAt": "2024-01-02T00:00:00Z", "updatedAt": "2024-02-01T00:00:00Z", "author": null},
          {"id": "I_1", "number": 10, "title": "a", "state": "OPEN", "createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-02-02T00:00:00Z", "author": {"login": "bob"}}
        ]
      }
    }
  }
}`

func TestClient_FetchPage(t *testing.T) {
	var gotVars map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}

		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if !strings.Contains(body.Query, "items: issues(") {
			t.Errorf("expected issues connection in query, got %s", body.Query)
		}
		gotVars = body.Variables

		w.Header().Set("X-RateLimit-Remaining", "4999")
		_, _ = w.Write([]byte(pageBody))
	}))
	defer server.Close()

	c := NewClient(Config{})
	page, err := c.FetchPage(context.Background(), pageRequest(server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotVars["owner"] != "octo" || gotVars["name"] != "repo" {
		t.Errorf("unexpected variables: %v", gotVars)
	}
	if _, ok := gotVars["after"]; ok {
		t.Error("first page must not send a cursor")
	}

	if len(page.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(page.Items))
	}
	if page.MinOrdinal != 10 || page.MaxOrdinal != 30 {
		t.Errorf("expected ordinals 10..30, got %d..%d", page.MinOrdinal, page.MaxOrdinal)
	}
	if !page.HasMore || page.NextCursor != "Y3Vyc29yOjM=" {
		t.Errorf("unexpected page info: hasMore=%v cursor=%q", page.HasMore, page.NextCursor)
	}
	if page.Budget == nil || page.Budget.Remaining != 4321 || page.Budget.Cost != 1 {
		t.Errorf("expected payload budget to win, got %+v", page.Budget)
	}
	if oldest := page.Oldest(); oldest == nil || oldest.ID != "I_2" {
		t.Errorf("expected I_2 as oldest update, got %+v", oldest)
	}
	if c.Monitor.Stats().Requests != 1 {
		t.Errorf("expected monitor to record the request")
	}
}

func TestClient_FetchPage_SendsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body request
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Variables["after"] != "abc" {
			t.Errorf("expected cursor abc, got %v", body.Variables["after"])
		}
		if !strings.Contains(body.Query, "UPDATED_AT") {
			t.Errorf("incremental query should order by update time")
		}
		_, _ = w.Write([]byte(`{"data":{"repository":{"items":{"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[]}}}}`))
	}))
	defer server.Close()

	req := pageRequest(server.URL)
	req.Cursor = "abc"
	req.Mode = domain.ModeIncremental

	page, err := NewClient(Config{}).FetchPage(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.HasMore || page.NextCursor != "" || len(page.Items) != 0 {
		t.Errorf("expected empty final page, got %+v", page)
	}
	if page.Budget != nil {
		t.Errorf("expected no budget without headers or payload, got %+v", page.Budget)
	}
}

func TestClient_FetchPage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		headers  map[string]string
		body     string
		category classify.Category
		wait     time.Duration
	}{
		{
			name:     "rate limited with retry-after",
			status:   http.StatusTooManyRequests,
			headers:  map[string]string{"Retry-After": "7", "X-RateLimit-Remaining": "0"},
			body:     "slow down",
			category: classify.RateLimited,
			wait:     7 * time.Second,
		},
		{
			name:     "secondary rate limit",
			status:   http.StatusForbidden,
			headers:  map[string]string{"Retry-After": "60"},
			body:     `{"message":"You have exceeded a secondary rate limit"}`,
			category: classify.RateLimited,
			wait:     time.Minute,
		},
		{
			name:     "bad credentials",
			status:   http.StatusUnauthorized,
			body:     `{"message":"Bad credentials"}`,
			category: classify.AuthError,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     "bad gateway",
			category: classify.Retryable,
		},
		{
			name:     "payload not found",
			status:   http.StatusOK,
			body:     `{"data":{"repository":null},"errors":[{"type":"NOT_FOUND","message":"Could not resolve to a Repository"}]}`,
			category: classify.NotFound,
		},
		{
			name:     "payload rate limited",
			status:   http.StatusOK,
			headers:  map[string]string{"Retry-After": "3"},
			body:     `{"errors":[{"type":"RATE_LIMITED","message":"API rate limit exceeded"}]}`,
			category: classify.RateLimited,
			wait:     3 * time.Second,
		},
		{
			name:     "missing repository",
			status:   http.StatusOK,
			body:     `{"data":{"repository":null}}`,
			category: classify.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(Config{})
			_, err := c.FetchPage(context.Background(), pageRequest(server.URL))
			if err == nil {
				t.Fatal("expected error")
			}

			res := classify.Classify(err)
			if res.Category != tt.category {
				t.Errorf("expected %s, got %s (%v)", tt.category, res.Category, err)
			}
			if tt.wait > 0 && res.SuggestedWait != tt.wait {
				t.Errorf("expected wait %v, got %v", tt.wait, res.SuggestedWait)
			}
			if c.Monitor.Stats().Failures != 1 {
				t.Errorf("expected monitor to record the failure")
			}
		})
	}
}

func TestClient_FetchPage_BudgetOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", "1900000000")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(Config{}).FetchPage(context.Background(), pageRequest(server.URL))

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	snap := herr.BudgetSnapshot()
	if snap == nil || snap.Remaining != 0 || snap.Limit != 5000 {
		t.Fatalf("expected header budget on error, got %+v", snap)
	}
	if !snap.ResetAt.Equal(time.Unix(1900000000, 0)) {
		t.Errorf("unexpected reset %v", snap.ResetAt)
	}
}

func TestClient_FetchPage_UnsupportedCategory(t *testing.T) {
	req := pageRequest("http://127.0.0.1:0")
	req.Category = "discussions"
	if _, err := NewClient(Config{}).FetchPage(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestProcessor_Process(t *testing.T) {
	p := NewProcessor()
	unit := domain.SyncUnit{ID: "u1"}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	act, err := p.Process(context.Background(), unit, domain.CategoryPullRequests, domain.Item{
		ID:        "PR_1",
		Ordinal:   5,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
		Payload:   json.RawMessage(`{"id":"PR_1","number":5,"title":"fix","state":"MERGED","author":null}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.UnitID != "u1" || act.Number != 5 || act.State != "MERGED" || act.Author != "ghost" {
		t.Errorf("unexpected activity %+v", act)
	}

	skipped, err := p.Process(context.Background(), unit, domain.CategoryIssues, domain.Item{})
	if err != nil || skipped != nil {
		t.Errorf("expected item without id to be skipped, got %+v, %v", skipped, err)
	}

	if _, err := p.Process(context.Background(), unit, domain.CategoryIssues, domain.Item{ID: "x", Payload: json.RawMessage(`{`)}); err == nil {
		t.Error("expected decode error")
	}
}

func TestMonitor_Status(t *testing.T) {
	m := NewMonitor()
	if m.Status() != StatusHealthy {
		t.Fatalf("expected healthy, got %s", m.Status())
	}

	for i := 0; i < 10; i++ {
		m.RecordFailure()
	}
	if m.Status() != StatusDegraded {
		t.Errorf("expected degraded after failures, got %s", m.Status())
	}

	m.RecordThrottle(time.Minute)
	if m.Status() != StatusThrottled {
		t.Errorf("expected throttled, got %s", m.Status())
	}
	if !m.DetectThrottlePattern("API Rate Limit Exceeded for user") {
		t.Error("expected throttle pattern match")
	}
}
