package graphql

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// HTTPError is a non-200 response.
type HTTPError struct {
	Status int
	Body   string
	Budget *domain.BudgetSnapshot
	wait   time.Duration
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

func (e *HTTPError) StatusCode() int                        { return e.Status }
func (e *HTTPError) RetryAfter() time.Duration              { return e.wait }
func (e *HTTPError) BudgetSnapshot() *domain.BudgetSnapshot { return e.Budget }

// GQLError is one entry of a response's "errors" array.
type GQLError struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// ResponseError is an HTTP 200 response whose payload carries errors.
type ResponseError struct {
	Errors []GQLError
	Budget *domain.BudgetSnapshot
	wait   time.Duration
}

func (e *ResponseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		if ge.Type != "" {
			msgs = append(msgs, ge.Type+": "+ge.Message)
		} else {
			msgs = append(msgs, ge.Message)
		}
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

func (e *ResponseError) ErrorTypes() []string {
	types := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		if ge.Type != "" {
			types = append(types, ge.Type)
		}
	}
	return types
}

func (e *ResponseError) RetryAfter() time.Duration              { return e.wait }
func (e *ResponseError) BudgetSnapshot() *domain.BudgetSnapshot { return e.Budget }
