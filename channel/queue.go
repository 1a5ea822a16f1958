package channel

import (
	"container/list"
	"sync"

	"github.com/distribution/ingest/contracts"
)

// queue is an unbounded multi-producer/single-consumer FIFO of envelopes
// waiting to be submitted. Producers call push from any goroutine; the
// worker is the sole consumer and calls drainAll once per cycle.
//
// Adapted from notifications.eventQueue (notifications/sinks.go): same
// mutex-guarded container/list shape, but without the embedded consumer
// goroutine — here the worker state machine, not the queue, owns when and
// how often envelopes are drained, since the spec's cycle timing is driven
// by the virtual clock rather than "wake on every push".
type queue struct {
	mu      sync.Mutex
	events  *list.List
	metrics *safeMetrics
}

func newQueue(metrics *safeMetrics) *queue {
	return &queue{events: list.New(), metrics: metrics}
}

// push enqueues e. It always succeeds and never blocks on I/O.
func (q *queue) push(e *contracts.Envelope) {
	q.mu.Lock()
	q.events.PushBack(e)
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.enqueued(1)
	}
}

// drainAll pops every envelope currently in the queue, in enqueue order,
// and returns them as a batch. Envelopes pushed concurrently with a
// drainAll either make it into this batch or are left for the next one;
// none are lost.
func (q *queue) drainAll() []*contracts.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.events.Len() == 0 {
		return nil
	}

	batch := make([]*contracts.Envelope, 0, q.events.Len())
	for e := q.events.Front(); e != nil; e = e.Next() {
		batch = append(batch, e.Value.(*contracts.Envelope))
	}
	q.events.Init()

	if q.metrics != nil {
		q.metrics.dequeued(len(batch))
	}
	return batch
}

// len reports the number of envelopes currently queued. Advisory only;
// metrics track queue depth through safeMetrics instead.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events.Len()
}
