// Package events implements the fire-and-forget, per-task-ordered event
// bus described in spec.md §4.3, grounded on
// internal/engine/events/events.go's typed-message style (teacher repo),
// with the UI-framework dependency (bubbletea) dropped — the bus here is
// plain channel fan-out to any number of subscribers, none of them a TUI.
package events

import (
	"sync"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

// Kind names the event, matching spec.md §4.3/§6 exactly.
type Kind string

const (
	KindTaskCreated    Kind = "task_created"
	KindStatusChanged  Kind = "status_changed"
	KindProgress       Kind = "progress"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindInstallerReady Kind = "installer_ready"
	KindMTProgress     Kind = "mt_progress"
	KindMTCompleted    Kind = "mt_completed"
	KindMTError        Kind = "mt_error"
)

// Event is what's delivered to subscribers. Task carries the full Task
// snapshot for every kind; mt_error additionally carries a diagnostic
// string in Error, and mt_progress additionally carries
// ActiveConnections and ETA, per spec.md §6.
type Event struct {
	Kind              Kind
	Task              *types.Task
	ActiveConnections int
	ETA               float64 // seconds; zero means "not computable"
	Error             string
}

// Bus is a one-way emitter: many subscribers, no acknowledgement, no
// back-pressure on the emitter. Delivery failure (a full subscriber
// buffer) is silently dropped, per spec.md §4.3: "the bus is advisory".
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives every future event, buffered
// so a slow subscriber doesn't stall emitters.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// advisory bus: drop rather than block the worker
		}
	}
}

// Emit publishes a Task-carrying event of the given kind.
func (b *Bus) Emit(kind Kind, task *types.Task) {
	b.emit(Event{Kind: kind, Task: task.Clone()})
}

// EmitMTProgress publishes the range-parallel progress event, which
// carries the extra active_connections/eta fields spec.md §6 names.
func (b *Bus) EmitMTProgress(task *types.Task, activeConnections int, etaSeconds float64) {
	b.emit(Event{Kind: KindMTProgress, Task: task.Clone(), ActiveConnections: activeConnections, ETA: etaSeconds})
}

// EmitMTError publishes mt_error with a diagnostic string alongside the task.
func (b *Bus) EmitMTError(task *types.Task, diagnostic string) {
	b.emit(Event{Kind: KindMTError, Task: task.Clone(), Error: diagnostic})
}
