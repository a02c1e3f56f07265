// Package graphql fetches paginated issue and pull request streams from a
// GitHub-style GraphQL API.
//
// FetchPage performs the whole unit of work: request, body read and decode.
// Failures come back as *HTTPError (non-200) or *ResponseError (200 with an
// errors payload); both expose the status or error types, a retry hint and
// any rate-limit metadata the response carried.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

// DefaultEndpoint is the public GitHub GraphQL endpoint.
const DefaultEndpoint = "https://api.github.com/graphql"

// Config holds client configuration.
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Client implements the page fetcher over HTTP.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time

	Monitor *Monitor
}

// NewClient creates a new GraphQL client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ghsync"
	}

	return &Client{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now:     time.Now,
		Monitor: NewMonitor(),
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type node struct {
	ID        string    `json:"id"`
	Number    int64     `json:"number"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type response struct {
	Data *struct {
		RateLimit  *payloadRateLimit `json:"rateLimit"`
		Repository *struct {
			Items struct {
				PageInfo struct {
					HasNextPage bool    `json:"hasNextPage"`
					EndCursor   *string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []json.RawMessage `json:"nodes"`
			} `json:"items"`
		} `json:"repository"`
	} `json:"data"`
	Errors []GQLError `json:"errors"`
}

// FetchPage fetches one page for req.
func (c *Client) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	start := c.now()
	res, err := c.fetch(ctx, req)

	latency := time.Since(start)
	metrics.FetchLatency.WithLabelValues(string(req.Category)).Observe(latency.Seconds())
	if err != nil {
		c.Monitor.RecordFailure()
		return nil, err
	}
	c.Monitor.RecordSuccess(latency)
	return res, nil
}

func (c *Client) fetch(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	query, err := Query(req.Category, req.Mode)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"owner": req.Unit.Owner,
		"name":  req.Unit.Name,
		"first": req.PageSize,
	}
	if req.Cursor != "" {
		vars["after"] = req.Cursor
	}

	payload, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.endpoint
	if req.Tenant.Endpoint != "" {
		endpoint = req.Tenant.Endpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Tenant.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Tenant.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graphql call: %w", err)
	}
	defer resp.Body.Close()

	headerBudget := budgetFromHeaders(resp.Header)

	// The body is read inside the same attempt so a mid-stream failure is retried.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		herr := &HTTPError{Status: resp.StatusCode, Body: string(body), Budget: headerBudget}
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && c.Monitor.DetectThrottlePattern(herr.Body)) {
			herr.wait = retryWait(resp.Header, headerBudget, c.now())
			c.Monitor.RecordThrottle(herr.wait)
		}
		return nil, herr
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var payloadBudget *payloadRateLimit
	if decoded.Data != nil {
		payloadBudget = decoded.Data.RateLimit
	}
	budget := mergeBudget(headerBudget, payloadBudget)

	if len(decoded.Errors) > 0 {
		rerr := &ResponseError{Errors: decoded.Errors, Budget: budget}
		for _, t := range rerr.ErrorTypes() {
			if t == "RATE_LIMITED" {
				rerr.wait = retryWait(resp.Header, budget, c.now())
				c.Monitor.RecordThrottle(rerr.wait)
				break
			}
		}
		return nil, rerr
	}
	if decoded.Data == nil || decoded.Data.Repository == nil {
		return nil, &ResponseError{
			Errors: []GQLError{{Type: "NOT_FOUND", Message: "repository not returned"}},
			Budget: budget,
		}
	}

	conn := decoded.Data.Repository.Items
	result := &domain.PageResult{
		HasMore: conn.PageInfo.HasNextPage,
		Budget:  budget,
		Items:   make([]domain.Item, 0, len(conn.Nodes)),
	}
	if conn.PageInfo.EndCursor != nil {
		result.NextCursor = *conn.PageInfo.EndCursor
	}

	for i, raw := range conn.Nodes {
		var n node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("parse node %d: %w", i, err)
		}
		result.Items = append(result.Items, domain.Item{
			ID:        n.ID,
			Ordinal:   n.Number,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
			Payload:   raw,
		})
		if i == 0 || n.Number < result.MinOrdinal {
			result.MinOrdinal = n.Number
		}
		if n.Number > result.MaxOrdinal {
			result.MaxOrdinal = n.Number
		}
	}

	return result, nil
}

// Close cleans up resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
