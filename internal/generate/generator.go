// Package generate talks to the external content-generation service.
package generate

import (
	"context"
	"fmt"
)

// Shape names the JSON payload a request expects back.
type Shape int

const (
	ShapeSection Shape = iota
	ShapeExtras
)

func (s Shape) String() string {
	switch s {
	case ShapeSection:
		return "section"
	case ShapeExtras:
		return "extras"
	default:
		return "unknown"
	}
}

// Request is one generation call: fixed instructions plus the clamped input.
type Request struct {
	System    string
	User      string
	Shape     Shape
	MaxTokens int // Output ceiling; 0 lets the backend choose.
}

// Generator returns the raw text of a structured (JSON) reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
