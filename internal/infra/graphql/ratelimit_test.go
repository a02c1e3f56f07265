package graphql

import (
	"net/http"
	"testing"
	"time"
)

func TestBudgetFromHeaders(t *testing.T) {
	tests := []struct {
		name      string
		headers   map[string]string
		wantNil   bool
		remaining int
		limit     int
		reset     time.Time
	}{
		{
			name:    "no remaining header",
			headers: map[string]string{"X-RateLimit-Limit": "5000"},
			wantNil: true,
		},
		{
			name: "all headers",
			headers: map[string]string{
				"X-RateLimit-Remaining": "4000",
				"X-RateLimit-Limit":     "5000",
				"X-RateLimit-Used":      "1000",
				"X-RateLimit-Reset":     "1900000000",
			},
			remaining: 4000,
			limit:     5000,
			reset:     time.Unix(1900000000, 0),
		},
		{
			name: "limit derived from used",
			headers: map[string]string{
				"X-RateLimit-Remaining": "4200",
				"X-RateLimit-Used":      "800",
			},
			remaining: 4200,
			limit:     5000,
		},
		{
			name:      "remaining only",
			headers:   map[string]string{"X-RateLimit-Remaining": "12"},
			remaining: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			snap := budgetFromHeaders(h)
			if tt.wantNil {
				if snap != nil {
					t.Fatalf("expected nil snapshot, got %+v", snap)
				}
				return
			}
			if snap == nil {
				t.Fatal("expected a snapshot")
			}
			if snap.Remaining != tt.remaining || snap.Limit != tt.limit {
				t.Errorf("got remaining=%d limit=%d, want %d/%d", snap.Remaining, snap.Limit, tt.remaining, tt.limit)
			}
			if !snap.ResetAt.Equal(tt.reset) {
				t.Errorf("got reset %v, want %v", snap.ResetAt, tt.reset)
			}
		})
	}
}
