// Package classify maps raw fetch failures to a small taxonomy that drives
// every downstream retry, cooldown and abort decision.
//
// Callers never branch on error identity. They call Classify and switch on
// Result.Category.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Category is the failure taxonomy.
type Category int

const (
	Unknown Category = iota
	Retryable
	RateLimited
	NotFound
	AuthError
	ClientError
)

func (c Category) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case AuthError:
		return "auth_error"
	case ClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether backoff should re-run the operation.
func (c Category) Retryable() bool {
	return c == Retryable
}

// Result is one classification. SuggestedWait is zero when the remote gave no hint.
type Result struct {
	Category      Category
	Message       string
	SuggestedWait time.Duration
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// TypedError is implemented by errors that carry remote error type codes,
// such as GraphQL `errors[].type`.
type TypedError interface {
	ErrorTypes() []string
}

// RetryHinter is implemented by errors that know when the remote will accept requests again.
type RetryHinter interface {
	RetryAfter() time.Duration
}

// Classify maps err to a Result. A nil error classifies as Unknown.
func Classify(err error) Result {
	if err == nil {
		return Result{Category: Unknown, Message: "no error"}
	}

	res := Result{Category: classifyCategory(err), Message: err.Error()}
	if res.Category == RateLimited {
		var hinter RetryHinter
		if errors.As(err, &hinter) {
			res.SuggestedWait = max(hinter.RetryAfter(), 0)
		}
	}
	return res
}

// IsRetryable is the predicate handed to the backoff executor.
func IsRetryable(err error) bool {
	return Classify(err).Category.Retryable()
}

func classifyCategory(err error) Category {
	var typed TypedError
	if errors.As(err, &typed) {
		if c, ok := fromTypes(typed.ErrorTypes()); ok {
			return c
		}
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		if c, ok := fromStatus(coder.StatusCode(), err.Error()); ok {
			return c
		}
	}

	if isTransport(err) {
		return Retryable
	}

	return fromMessage(err.Error())
}

func fromTypes(types []string) (Category, bool) {
	// The most severe type wins when a payload carries several errors.
	best, found := Unknown, false
	for _, t := range types {
		var c Category
		switch strings.ToUpper(t) {
		case "RATE_LIMITED", "RATE_LIMIT", "THROTTLED":
			c = RateLimited
		case "NOT_FOUND":
			c = NotFound
		case "FORBIDDEN", "UNAUTHORIZED", "UNAUTHENTICATED", "INSUFFICIENT_SCOPES":
			c = AuthError
		case "BAD_REQUEST", "INVALID", "GRAPHQL_PARSE_FAILED", "GRAPHQL_VALIDATION_FAILED", "ARGUMENT_LIMIT", "MAX_NODE_LIMIT_EXCEEDED":
			c = ClientError
		case "INTERNAL", "SERVICE_UNAVAILABLE", "TIMEOUT":
			c = Retryable
		default:
			continue
		}
		if !found || severity(c) > severity(best) {
			best, found = c, true
		}
	}
	return best, found
}

func severity(c Category) int {
	switch c {
	case AuthError:
		return 5
	case RateLimited:
		return 4
	case ClientError:
		return 3
	case NotFound:
		return 2
	case Retryable:
		return 1
	default:
		return 0
	}
}

func fromStatus(code int, msg string) (Category, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited, true
	case code == http.StatusForbidden && mentionsRateLimit(strings.ToLower(msg)):
		return RateLimited, true
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return AuthError, true
	case code == http.StatusNotFound, code == http.StatusGone:
		return NotFound, true
	case code == http.StatusRequestTimeout:
		return Retryable, true
	case code >= 500:
		return Retryable, true
	case code >= 400:
		return ClientError, true
	}
	return Unknown, false
}

func isTransport(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// Request-scoped timeouts surface as DeadlineExceeded from the http client.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func mentionsRateLimit(s string) bool {
	return strings.Contains(s, "rate limit") || strings.Contains(s, "secondary rate") ||
		strings.Contains(s, "abuse detection") || strings.Contains(s, "api rate")
}

func fromMessage(s string) Category {
	lower := strings.ToLower(s)

	switch {
	case mentionsRateLimit(lower) || strings.Contains(s, "429") ||
		strings.Contains(lower, "too many requests"):
		return RateLimited

	case strings.Contains(lower, "bad credentials") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") || strings.Contains(s, "401") ||
		strings.Contains(lower, "resource not accessible"):
		return AuthError

	case strings.Contains(lower, "could not resolve to") || strings.Contains(lower, "not found") ||
		strings.Contains(s, "404"):
		return NotFound

	case strings.Contains(lower, "connection reset") || strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "unexpected eof") || strings.Contains(lower, "premature") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "server closed") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "504") ||
		strings.Contains(lower, "internal server error") || strings.Contains(lower, "bad gateway"):
		return Retryable

	case strings.Contains(lower, "parse error") || strings.Contains(lower, "syntax error") ||
		strings.Contains(lower, "invalid argument") || strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "bad request") || strings.Contains(s, "400") ||
		strings.Contains(s, "422"):
		return ClientError
	}

	return Unknown
}
