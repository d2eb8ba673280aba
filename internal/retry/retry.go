// Package retry wraps calls to external collaborators (memory
// reclamation, the VM lifecycle) with exponential backoff, per spec §7:
// "Transient I/O failures in external services (not this core) are
// retried with exponential backoff outside the scheduler locks; the
// scheduler itself never retries." Nothing in this package may be
// called while holding a scheduler lock.
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures the backoff curve. Zero value is not usable;
// construct with DefaultPolicy.
type Policy struct {
	b backoff.BackOff
}

// DefaultPolicy returns an exponential backoff capped at 5 retries
// worth of elapsed time, suitable for short collaborator RPCs (reserve
// memory, migrate a VM) that should fail fast rather than stall a
// rebalance or admission path indefinitely.
func DefaultPolicy(ctx context.Context) Policy {
	eb := backoff.NewExponentialBackOff()
	return Policy{b: backoff.WithContext(backoff.WithMaxRetries(eb, 5), ctx)}
}

// Do runs fn, retrying on error per the policy until it succeeds, the
// policy gives up, or ctx is done. A permanent error (wrapped with
// backoff.Permanent) stops retrying immediately and is returned as-is.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	return backoff.Retry(fn, policy.b)
}

// Permanent marks err as non-retryable: Do returns it immediately
// instead of continuing the backoff schedule.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
