package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/ghsync/internal/core/config"
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/orchestrator"
)

// fakeGitHub serves a repository with a fixed number of issues and pull requests.
type fakeGitHub struct {
	mu      sync.Mutex
	issues  int
	pulls   int
	status  int
	queries []string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	status := f.status
	total := f.issues
	if strings.Contains(req.Query, "items: pullRequests(") {
		total = f.pulls
	}
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}

	first := int(req.Variables["first"].(float64))
	offset := 0
	if after, ok := req.Variables["after"].(string); ok {
		offset, _ = strconv.Atoi(strings.TrimPrefix(after, "cur:"))
	}

	nodes := []map[string]any{}
	end := min(offset+first, total)
	for i := offset; i < end; i++ {
		number := total - i
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Hour)
		nodes = append(nodes, map[string]any{
			"id":        fmt.Sprintf("N_%d_%d", total, number),
			"number":    number,
			"title":     fmt.Sprintf("item %d", number),
			"state":     "OPEN",
			"createdAt": ts.Format(time.RFC3339),
			"updatedAt": ts.Format(time.RFC3339),
			"author":    map[string]any{"login": "octocat"},
		})
	}

	resp := map[string]any{
		"data": map[string]any{
			"rateLimit": map[string]any{
				"cost":      1,
				"remaining": 4000,
				"limit":     5000,
				"resetAt":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
			"repository": map[string]any{
				"items": map[string]any{
					"pageInfo": map[string]any{
						"hasNextPage": end < total,
						"endCursor":   fmt.Sprintf("cur:%d", end),
					},
					"nodes": nodes,
				},
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeGitHub) sawIncremental() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queries {
		if strings.Contains(q, "UPDATED_AT") {
			return true
		}
	}
	return false
}

func newTestSyncer(t *testing.T, gh *fakeGitHub) *Syncer {
	t.Helper()

	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
github:
  endpoint: %s
sync:
  storage: memory
  page_size: 2
  page_delay: 1ms
backoff:
  max_attempts: 2
  initial_delay: 1ms
  max_delay: 2ms
tenants:
  - id: acme
    token: secret
    units:
      - owner: acme
        name: api
`, srv.URL)))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Server.Port = freePort(t)

	s, err := NewSyncer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSyncer failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestSyncer_BackfillThenIncremental(t *testing.T) {
	gh := &fakeGitHub{issues: 5, pulls: 3}
	s := newTestSyncer(t, gh)
	ctx := context.Background()
	unitID := domain.UnitID("acme", "acme", "api")

	stats := s.RunOnce(ctx)
	if stats.Outcomes[orchestrator.OutcomeComplete] != 2 {
		t.Fatalf("expected both categories complete, got %+v", stats.Outcomes)
	}

	for cat, want := range map[domain.Category]int{domain.CategoryIssues: 5, domain.CategoryPullRequests: 3} {
		n, err := s.Store().Activities().Count(ctx, unitID, cat)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != want {
			t.Errorf("%s: expected %d activities, got %d", cat, want, n)
		}

		p, err := s.Checkpoints().Read(ctx, unitID, cat)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !p.Complete() || !p.HasBaseline() {
			t.Errorf("%s: expected complete progress with baseline, got %+v", cat, p)
		}
	}

	if gh.sawIncremental() {
		t.Fatal("first cycle must only backfill")
	}

	stats = s.RunOnce(ctx)
	if stats.Outcomes[orchestrator.OutcomeCaughtUp] != 2 {
		t.Errorf("expected two caught-up incremental passes, got %+v", stats.Outcomes)
	}
	if !gh.sawIncremental() {
		t.Error("second cycle should run incremental queries")
	}

	report := s.Health(ctx)
	if report.Tenants["acme"].Remaining != 4000 {
		t.Errorf("expected tracked budget 4000, got %+v", report.Tenants["acme"])
	}
}

func TestSyncer_AuthFailureAbortsTenant(t *testing.T) {
	gh := &fakeGitHub{issues: 5, status: http.StatusUnauthorized}
	s := newTestSyncer(t, gh)

	stats := s.RunOnce(context.Background())
	if len(stats.AbortedTenants) != 1 || stats.AbortedTenants[0] != "acme" {
		t.Errorf("expected tenant aborted, got %+v", stats)
	}

	p, err := s.Checkpoints().Read(context.Background(), domain.UnitID("acme", "acme", "api"), domain.CategoryIssues)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p != nil {
		t.Errorf("expected no progress after auth failure, got %+v", p)
	}
}

func TestSyncer_Lifecycle(t *testing.T) {
	s := newTestSyncer(t, &fakeGitHub{issues: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(time.Second)
	for s.scheduler.LastCycle().RunID == "" {
		select {
		case <-deadline:
			t.Fatal("scheduler did not run a cycle")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
