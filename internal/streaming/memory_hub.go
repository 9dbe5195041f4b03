package streaming

import (
	"context"
	"slices"
	"sync"
)

const defaultChannelBuffer = 64

// MemoryHub is a channel-backed EventHub for single-process deployments.
// Publishing never blocks: a subscriber that falls behind its buffer
// loses events rather than stalling the executor.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
}

type subscription struct {
	out    chan StepEvent
	filter EventFilter
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]subscription)}
}

// Publish fans the event out to every subscriber whose filter accepts it.
func (h *MemoryHub) Publish(ctx context.Context, event StepEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.accepts(event) {
			continue
		}
		select {
		case sub.out <- event:
		default:
			// slow subscriber, drop
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber. The returned cancel func
// removes the subscription; the channel is not closed, so readers should
// stop on cancellation rather than channel close.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StepEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out := make(chan StepEvent, defaultChannelBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = subscription{out: out, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return out, cancel, nil
}

func (f EventFilter) accepts(e StepEvent) bool {
	if f.InstanceID != "" && f.InstanceID != e.InstanceID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}
