package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nightshift-run/nightshift/internal/logger"
)

var (
	// ErrStaleRun means the event's run is no longer the agent's active run.
	ErrStaleRun = errors.New("event from stale run")
	// ErrNotStarted means the bus was used before Start.
	ErrNotStarted = errors.New("event bus is not started")
)

// Bus fans run events out to subscribers. Slow subscribers lose events
// rather than blocking the run that produces them.
type Bus struct {
	mu           sync.RWMutex
	log          *logger.Logger
	started      bool
	capacity     int
	subscribers  map[int64]chan Event
	subscriberID int64

	// activeRuns maps agent id -> the run allowed to publish. A run that
	// keeps emitting after being superseded is filtered here.
	activeRuns map[string]string

	dropped atomic.Int64
}

// NewBus creates a bus; capacity sizes each subscriber's buffer.
func NewBus(capacity int, log *logger.Logger) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		log:         log,
		capacity:    capacity,
		subscribers: make(map[int64]chan Event),
		activeRuns:  make(map[string]string),
	}
}

// Start marks the bus ready for publishing.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}

// Stop closes all subscriber channels.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.started = false
}

// BeginRun registers runID as the active run for an agent. Events published
// under any previous run id for this agent are dropped from that point on.
func (b *Bus) BeginRun(agentID, runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeRuns[agentID] = runID
}

// EndRun clears the active run if it is still the given one.
func (b *Bus) EndRun(agentID, runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeRuns[agentID] == runID {
		delete(b.activeRuns, agentID)
	}
}

// Publish delivers an event to all subscribers. Events from a run that is
// no longer the agent's active run return ErrStaleRun and are not delivered.
func (b *Bus) Publish(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.started {
		return ErrNotStarted
	}
	if active, ok := b.activeRuns[e.AgentID]; ok && e.RunID != "" && e.RunID != active {
		return ErrStaleRun
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Debug("event dropped: subscriber buffer full",
				logger.Field{Key: "type", Value: string(e.Type)},
				logger.Field{Key: "run_id", Value: e.RunID},
			)
		}
	}
	return nil
}

// Subscribe returns a channel receiving all published events. Unsubscribe
// with the returned cancel function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriberID++
	id := b.subscriberID
	ch := make(chan Event, b.capacity)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			close(sub)
			delete(b.subscribers, id)
		}
	}
	return ch, cancel
}

// SubscribeRun returns a channel receiving only the given run's events, and
// closes it after the run's terminal event.
func (b *Bus) SubscribeRun(runID string) (<-chan Event, func()) {
	all, cancel := b.Subscribe()
	out := make(chan Event, b.capacity)

	go func() {
		defer close(out)
		for e := range all {
			if e.RunID != runID {
				continue
			}
			select {
			case out <- e:
			default:
			}
			if e.Terminal() {
				cancel()
				return
			}
		}
	}()
	return out, cancel
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
