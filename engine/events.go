package engine

import (
	"time"

	"github.com/schedulekit/constraints/conflict"
	"github.com/schedulekit/constraints/constraint"
)

// EventType names an engine lifecycle notification.
type EventType string

const (
	EventEvaluated         EventType = "constraint_evaluated"
	EventConflictsDetected EventType = "conflicts_detected"
	EventConflictsResolved EventType = "conflicts_resolved"
)

// Event is a fire-and-forget notification delivered to subscribed observers.
type Event struct {
	Type         EventType                    `json:"type"`
	Timestamp    time.Time                    `json:"timestamp"`
	ConstraintID string                       `json:"constraintId,omitempty"`
	Result       *constraint.EvaluationResult `json:"result,omitempty"`
	Conflicts    []conflict.Conflict          `json:"conflicts,omitempty"`
	Resolutions  []conflict.Resolution        `json:"resolutions,omitempty"`
}

// Observer receives engine events. Observers are called synchronously on the
// evaluating goroutine and must not block.
type Observer func(Event)

// Subscribe registers an observer for all engine events. Events stop after
// Shutdown.
func (e *Engine) Subscribe(fn Observer) {
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) emit(ev Event) {
	if e.closed.Load() {
		return
	}
	ev.Timestamp = time.Now()

	e.observerMu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.observerMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}
