// Package agent implements the coordination core for a single autonomous
// agent: its lifecycle state machine, token-bounded conversation memory, and
// the bounded execution loop that drives model calls and tool executions.
package agent

import (
	"sync"
	"time"
)

// State is one step of an agent's lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateThinking     State = "thinking"
	StateExecuting    State = "executing"
	StateWaitingInput State = "waiting_input"
	StateComplete     State = "complete"
	StateError        State = "error"
)

// ForcedReasonPrefix marks transitions applied without validity checking.
const ForcedReasonPrefix = "FORCED: "

// validTransitions is the allowed-next set for each state.
var validTransitions = map[State][]State{
	StateIdle:         {StateThinking, StateError},
	StateThinking:     {StateExecuting, StateWaitingInput, StateComplete, StateError},
	StateExecuting:    {StateThinking, StateError},
	StateWaitingInput: {StateThinking, StateComplete, StateError},
	StateComplete:     {StateIdle},
	StateError:        {StateIdle},
}

// Transition is one immutable entry of the state log.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// StateManager tracks an agent's current state and its append-only
// transition log. Safe for concurrent use.
type StateManager struct {
	mu      sync.Mutex
	current State
	since   time.Time
	log     []Transition
}

// NewStateManager starts in the idle state.
func NewStateManager() *StateManager {
	return &StateManager{current: StateIdle, since: time.Now()}
}

// Current returns the current state.
func (m *StateManager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo applies the transition only if the target is in the current
// state's allowed-next set. It reports whether the transition was applied;
// an invalid target is a no-op, never a panic.
func (m *StateManager) TransitionTo(to State, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := false
	for _, next := range validTransitions[m.current] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	m.apply(to, reason)
	return true
}

// ForceTransition applies the transition unconditionally, marking the log
// reason as forced.
func (m *StateManager) ForceTransition(to State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(to, ForcedReasonPrefix+reason)
}

// apply records and commits a transition. Callers must hold m.mu.
func (m *StateManager) apply(to State, reason string) {
	now := time.Now()
	m.log = append(m.log, Transition{From: m.current, To: to, At: now, Reason: reason})
	m.current = to
	m.since = now
}

// Reset returns to idle and clears the transition log.
func (m *StateManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateIdle
	m.since = time.Now()
	m.log = nil
}

// IsTerminal reports whether the agent has reached a terminal state.
func (m *StateManager) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == StateComplete || m.current == StateError
}

// IsActive reports whether the agent is mid-run.
func (m *StateManager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == StateThinking || m.current == StateExecuting || m.current == StateWaitingInput
}

// History returns a copy of the transition log.
func (m *StateManager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.log))
	copy(out, m.log)
	return out
}

// StateDuration reports how long the agent has been in its current state.
func (m *StateManager) StateDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.since)
}
