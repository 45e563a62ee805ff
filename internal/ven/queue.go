package ven

import (
	"context"
	"sync"

	"github.com/gridlink/vend/internal/oadr"
)

// reportQueue is the unbounded FIFO between the sampling jobs and the
// outbound pump. Producers never block; the single consumer blocks in
// Get. Unboundedness is a deliberate trade-off: sampling cadence stays
// deterministic even when the VTN is slow, at the cost of memory during
// long outages.
type reportQueue struct {
	mu     sync.Mutex
	items  []oadr.Report
	signal chan struct{}
}

func newReportQueue() *reportQueue {
	return &reportQueue{signal: make(chan struct{}, 1)}
}

// Put appends a report and wakes the consumer.
func (q *reportQueue) Put(r oadr.Report) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Get removes the oldest report, blocking until one is available or the
// context is cancelled. The second return is false on cancellation.
func (q *reportQueue) Get(ctx context.Context) (oadr.Report, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return r, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return oadr.Report{}, false
		case <-q.signal:
		}
	}
}

// Len returns the number of queued reports.
func (q *reportQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops all queued reports.
func (q *reportQueue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
