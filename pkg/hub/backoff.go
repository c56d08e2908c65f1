// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff yields exponentially growing retry delays, capped at max, with
// up to 25% random jitter added to each delay.
type backoff struct {
	next time.Duration
	max  time.Duration
}

const backoffFactor = 1.6

// newRetry creates a backoff from settings. Unparseable durations fall
// back to 400ms and 10s.
func newRetry(cfg Settings) *backoff {
	b := &backoff{next: 400 * time.Millisecond, max: 10 * time.Second}
	if d, err := time.ParseDuration(cfg.BackoffInitial); err == nil && d > 0 {
		b.next = d
	}
	if d, err := time.ParseDuration(cfg.BackoffMax); err == nil && d > 0 {
		b.max = d
	}
	if b.next > b.max {
		b.next = b.max
	}
	return b
}

// Next returns the delay before the next attempt.
func (b *backoff) Next() time.Duration {
	d := b.next
	if j := int64(d / 4); j > 0 {
		d += time.Duration(rand.Int64N(j))
	}
	b.next = min(time.Duration(float64(b.next)*backoffFactor), b.max)
	return d
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
