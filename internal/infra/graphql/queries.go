package graphql

import (
	"fmt"

	"github.com/vietddude/ghsync/internal/core/domain"
)

const nodeFields = `
        id
        number
        title
        state
        createdAt
        updatedAt
        author { login }`

const queryTemplate = `query($owner: String!, $name: String!, $first: Int!, $after: String) {
  rateLimit { cost remaining limit resetAt }
  repository(owner: $owner, name: $name) {
    items: %s(first: $first, after: $after, orderBy: {field: %s, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {%s
      }
    }
  }
}`

// Query returns the GraphQL document for a category and traversal mode.
// Backfill walks creation order so ordinals fall monotonically; incremental
// walks update order so the cutoff comparison sees the newest changes first.
func Query(category domain.Category, mode domain.Mode) (string, error) {
	var connection string
	switch category {
	case domain.CategoryIssues:
		connection = "issues"
	case domain.CategoryPullRequests:
		connection = "pullRequests"
	default:
		return "", fmt.Errorf("unsupported category %q", category)
	}

	order := "CREATED_AT"
	if mode == domain.ModeIncremental {
		order = "UPDATED_AT"
	}
	return fmt.Sprintf(queryTemplate, connection, order, nodeFields), nil
}
