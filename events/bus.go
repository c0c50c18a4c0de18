// Package events broadcasts project and task lifecycle events to external
// observers, with a priority class reserved for terminal project events
// that must never be dropped.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind enumerates the bit-exact event kinds observers depend on.
type Kind string

const (
	KindProjectOrchestrated Kind = "project_orchestrated"
	KindTaskReady           Kind = "task_ready"
	KindTaskStarted         Kind = "task_started"
	KindTaskProgress        Kind = "task_progress"
	KindTaskCompleted       Kind = "task_completed"
	KindTaskFailed          Kind = "task_failed"
	KindCheckpointStarted   Kind = "checkpoint_started"
	KindCheckpointCompleted Kind = "checkpoint_completed"
	KindCheckpointFailed    Kind = "checkpoint_failed"
	KindWorkerAssigned      Kind = "worker_assigned"
	KindWorkerHeartbeat     Kind = "worker_heartbeat"
	KindReworkRequested     Kind = "rework_requested"
	KindProjectCompleted    Kind = "project_completed"
	KindProjectFailed       Kind = "project_failed"
	KindProjectCancelled    Kind = "project_cancelled"
	KindSessionCleanup      Kind = "session_cleanup"
)

// terminalKinds are the kinds Publish also delivers to priority
// subscribers (see SubscribePriority), with a blocking send.
var terminalKinds = map[Kind]bool{
	KindProjectCompleted: true,
	KindProjectFailed:    true,
	KindProjectCancelled: true,
}

// IsTerminal reports whether kind is a run-terminal event.
func IsTerminal(kind Kind) bool { return terminalKinds[kind] }

// Event is a single lifecycle occurrence.
type Event struct {
	Kind      Kind
	ProjectID string
	TaskID    string
	WorkerID  string
	Timestamp time.Time
	Payload   map[string]any
}

type subscriber struct {
	ch        chan Event
	kinds     map[Kind]bool // empty means all kinds
	projectID string        // empty means all projects
	priority  bool
}

// Bus is a ring-buffer pub/sub broadcaster. Regular subscriptions drop
// the oldest buffered event under backpressure; priority subscriptions
// (reserved for terminal events) block instead.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*subscriber
	prioritySubs []*subscriber
	bufferSize   int
	dropped      int64
	closed       bool
}

// New creates a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving every event for projectID (or all
// projects if empty), optionally filtered to the given kinds.
func (b *Bus) Subscribe(projectID string, kinds ...Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	sub := &subscriber{
		ch:        make(chan Event, b.bufferSize),
		kinds:     kindSet(kinds),
		projectID: projectID,
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// SubscribePriority is like Subscribe but never drops events: sends block
// until the subscriber drains them. Reserved for terminal-event observers.
func (b *Bus) SubscribePriority(projectID string, kinds ...Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	sub := &subscriber{
		ch:        make(chan Event, 50),
		kinds:     kindSet(kinds),
		projectID: projectID,
		priority:  true,
	}
	b.prioritySubs = append(b.prioritySubs, sub)
	return sub.ch
}

func kindSet(kinds []Kind) map[Kind]bool {
	m := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// Unsubscribe removes and closes a previously returned channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = removeSub(b.subscribers, ch)
	b.prioritySubs = removeSub(b.prioritySubs, ch)
}

func removeSub(subs []*subscriber, ch <-chan Event) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s.ch == ch {
			close(s.ch)
			continue
		}
		out = append(out, s)
	}
	return out
}

func matches(s *subscriber, e Event) bool {
	if s.projectID != "" && e.ProjectID != s.projectID {
		return false
	}
	if len(s.kinds) > 0 && !s.kinds[e.Kind] {
		return false
	}
	return true
}

// Publish delivers e to every matching regular subscriber, dropping the
// oldest buffered event for any subscriber whose channel is full.
// Terminal kinds are additionally delivered to priority subscribers with
// a blocking send, so the caller should route terminal events through
// Publish once — it already fans out to both subscriber classes.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subscribers {
		if matches(s, e) {
			b.deliverRingBuffer(s, e)
		}
	}
	if IsTerminal(e.Kind) {
		for _, s := range b.prioritySubs {
			if matches(s, e) {
				s.ch <- e
			}
		}
	}
}

func (b *Bus) deliverRingBuffer(s *subscriber, e Event) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
		atomic.AddInt64(&b.dropped, 1)
	default:
	}
	select {
	case s.ch <- e:
	default:
		atomic.AddInt64(&b.dropped, 1)
	}
}

// DroppedCount returns how many events were discarded due to backpressure.
func (b *Bus) DroppedCount() int64 { return atomic.LoadInt64(&b.dropped) }

// Close closes the bus and every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.ch)
	}
	for _, s := range b.prioritySubs {
		close(s.ch)
	}
	b.subscribers = nil
	b.prioritySubs = nil
}
