package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Shutdown coordinates process stop: broadcast cancellation to every ticker
// (by cancelling the ctx passed to Start), wait gracePeriod for in-flight
// work to settle, then FlushAndClose every live Supervisor concurrently.
// Any one step's error is logged, not fatal; later steps still run.
//
// cancel is the CancelFunc for the context originally passed to Start.
func (e *Engine) Shutdown(cancel context.CancelFunc, gracePeriod time.Duration) {
	cancel()

	tickersDone := make(chan struct{})
	go func() {
		e.Wait()
		close(tickersDone)
	}()

	select {
	case <-tickersDone:
	case <-time.After(gracePeriod):
		e.logger().Warn("lifecycle: grace period elapsed before all tickers exited")
	}

	e.mu.Lock()
	entries := make([]supervisorEntry, 0, len(e.supervisors))
	for _, entry := range e.supervisors {
		entries = append(entries, entry)
	}
	e.supervisors = make(map[string]supervisorEntry)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(entry supervisorEntry) {
			defer wg.Done()
			entry.sv.FlushAndClose()
			entry.release()
		}(entry)
	}
	wg.Wait()
}
