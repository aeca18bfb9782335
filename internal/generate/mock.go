package generate

import (
	"context"
	"fmt"
	"strings"
)

// Mock returns deterministic local replies when no model is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Reply(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", classify(ctx.Err())
	default:
	}
	base := strings.TrimSpace(req.Message)
	if base == "" {
		base = "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base), nil
}
