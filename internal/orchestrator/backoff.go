// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"math"
	"time"
)

// backoffDelay computes the bounded exponential backoff for a retry:
// min(2^attempt + jitter, cap) seconds, where jitter is uniform in [0,1).
func backoffDelay(attempt int, jitter float64, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	seconds := math.Pow(2, float64(attempt)) + jitter
	d := time.Duration(seconds * float64(time.Second))
	if d > cap {
		return cap
	}
	return d
}

// sleepCtx sleeps for the given duration unless the context is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
