package ratelimit

import "context"

// RateLimiter bounds how often a keyed operation may run. Keys are
// caller-defined, e.g. a per-actor dispatch key. The default implementation
// is in-memory; multi-instance deployments swap in the Redis-backed one.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
