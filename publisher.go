package flowline

import (
	"context"
	"sync"
)

// StatusEvent is the per-node lifecycle notification consumed by live
// observers (the editor UI). It carries no payload data on purpose.
type StatusEvent struct {
	ExecutionID int64      `json:"execution_id"`
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
}

// StatusPublisher is a best-effort side channel. The engine swallows every
// error it returns; implementations must never block for long.
type StatusPublisher interface {
	Publish(ctx context.Context, channel string, event StatusEvent) error
}

type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(context.Context, string, StatusEvent) error {
	return nil
}

// MemoryPublisher is an in-process broker: observers subscribe by execution
// id and receive every status event for it, regardless of channel family.
// Slow subscribers lose events rather than stalling the engine.
type MemoryPublisher struct {
	mu   sync.RWMutex
	subs map[int64][]chan StatusEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		subs: make(map[int64][]chan StatusEvent),
	}
}

func (p *MemoryPublisher) Publish(_ context.Context, _ string, event StatusEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subs[event.ExecutionID] {
		select {
		case sub <- event:
		default:
		}
	}

	return nil
}

// Subscribe returns a buffered channel of status events for one execution
// and a cancel function that closes it.
func (p *MemoryPublisher) Subscribe(executionID int64) (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 64)

	p.mu.Lock()
	p.subs[executionID] = append(p.subs[executionID], ch)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		subs := p.subs[executionID]
		for i, sub := range subs {
			if sub == ch {
				p.subs[executionID] = append(subs[:i], subs[i+1:]...)
				close(ch)

				break
			}
		}

		if len(p.subs[executionID]) == 0 {
			delete(p.subs, executionID)
		}
	}

	return ch, cancel
}
