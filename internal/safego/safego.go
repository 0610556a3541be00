// Package safego launches background goroutines that survive panics.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// crashing the process. All fire-and-forget goroutines (delivery workers,
// asynchronous audit writes, maintenance jobs) go through this so a panic in
// one of them never takes the service down or silently kills a worker.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
