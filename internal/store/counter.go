package store

import (
	"context"
	"fmt"
	"time"
)

// monthLayout formats the month component of usage keys.
const monthLayout = "2006-01"

// Counter is an atomic integer store keyed by string.
type Counter interface {
	// IncrementBy adds amount to key, creating it at zero first, and returns
	// the new value. Concurrent increments never lose updates.
	IncrementBy(ctx context.Context, key string, amount int64) (int64, error)
	// Get returns the value of key, zero when it was never incremented.
	Get(ctx context.Context, key string) (int64, error)
}

// UsageKey is the monthly embedding token counter for a project. The month
// is taken in UTC.
func UsageKey(projectID string, t time.Time) string {
	return fmt.Sprintf("project:%s:embedding_tokens:%s", projectID, t.UTC().Format(monthLayout))
}

// UsageKeyForMonth builds a usage key from a "YYYY-MM" month string.
func UsageKeyForMonth(projectID, month string) (string, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return "", fmt.Errorf("invalid month %q, want YYYY-MM: %w", month, err)
	}
	return UsageKey(projectID, t), nil
}
