// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package sensor

import (
	"context"
	"time"
)

// Throttle forwards readings from in at most once per interval. Readings arriving inside
// the interval replace each other and the latest one is delivered when the interval ends,
// so the last reading of a burst is never lost. The returned channel is closed once in
// is closed or ctx is done.
func Throttle[T any](ctx context.Context, in <-chan T, interval time.Duration) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)

		var (
			pending    T
			hasPending bool
			lastSent   time.Time
			flush      <-chan time.Time
		)
		send := func(v T) bool {
			select {
			case out <- v:
				lastSent = time.Now()
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					if hasPending {
						send(pending)
					}
					return
				}
				if flush != nil {
					pending, hasPending = v, true
					continue
				}
				wait := interval - time.Since(lastSent)
				if lastSent.IsZero() || wait <= 0 {
					if !send(v) {
						return
					}
					continue
				}
				pending, hasPending = v, true
				flush = time.After(wait)
			case <-flush:
				flush = nil
				if hasPending {
					hasPending = false
					if !send(pending) {
						return
					}
				}
			}
		}
	}()
	return out
}
