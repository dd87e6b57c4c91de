package saga

import (
	"sync"
	"time"

	"orderflow/pkg/metrics"
)

// ReorderBuffer tracks causally-early events between redeliveries. It does
// not hold message bodies: an out-of-order event stays unacknowledged on the
// broker and comes back via the redelivery backoff, so nothing is lost on a
// crash. The buffer only remembers when an event was first held, to bound how
// long redelivery may keep trying before the event is dead-lettered.
type ReorderBuffer struct {
	mu        sync.Mutex
	firstHeld map[string]time.Time
	timeout   time.Duration
	now       func() time.Time
}

func NewReorderBuffer(timeout time.Duration) *ReorderBuffer {
	return &ReorderBuffer{
		firstHeld: make(map[string]time.Time),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Hold registers the event as out of order and reports whether it has been
// held past the timeout, meaning its causal predecessor is not coming and the
// event must be dead-lettered.
func (b *ReorderBuffer) Hold(eventID string) (expired bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first, ok := b.firstHeld[eventID]
	if !ok {
		b.firstHeld[eventID] = b.now()
		metrics.ReorderBufferHolds.Set(float64(len(b.firstHeld)))
		return false
	}

	return b.now().Sub(first) > b.timeout
}

// Resolve drops tracking for an event after it applied or was dead-lettered.
func (b *ReorderBuffer) Resolve(eventID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.firstHeld, eventID)
	metrics.ReorderBufferHolds.Set(float64(len(b.firstHeld)))
}

// Held reports how many events are currently tracked.
func (b *ReorderBuffer) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.firstHeld)
}
