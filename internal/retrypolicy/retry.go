// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package retrypolicy generalizes the original implementation's
// gestvenv/utils/retry.py: a small bounded-attempt retry helper for
// operations that are flaky rather than wrong (network-backed backend
// installs, contended cache index-lock acquisition). It is grounded on the
// teacher's own TTL-cache-backed backoff tracker (internal/runner/backoffs.go)
// but reworked here into a direct retry loop since the core has no global
// singleton-backoff registry to share across callers.
package retrypolicy

import (
	"context"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default mirrors the original's retry.py defaults: three attempts, a
// short exponential backoff capped well under the surrounding operation's
// own timeout.
var Default = Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// Do runs fn up to MaxAttempts times, backing off between attempts, and
// returns the last error if every attempt fails. fn should return a nil
// error on success; Do does not distinguish retryable from fatal errors -
// callers that need that distinction should return early from fn via a
// sentinel the caller recognizes before retrying.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (err error) {
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
