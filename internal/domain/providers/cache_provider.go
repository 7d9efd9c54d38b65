package providers

import (
	"context"
	"time"
)

// CacheProvider holds short-lived claims that let concurrent dispatchers
// skip work another instance already started. A claim is advisory; the
// durable store remains the authority.
type CacheProvider interface {
	// Claim stores key only if it is absent and reports whether it did
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release drops a claim so the work can be retried
	Release(ctx context.Context, key string) error
}
