package hedge

import "sync"

// Phase is the execution coordinator's per-cycle phase.
type Phase string

// Event drives phase transitions.
type Event string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseSubmitting  Phase = "SUBMITTING"
	PhaseBothFilled  Phase = "BOTH_FILLED"
	PhasePartialFill Phase = "PARTIAL_FILL"
	PhaseBothFailed  Phase = "BOTH_FAILED"
)

const (
	EventSubmit      Event = "SUBMIT"
	EventBothFilled  Event = "BOTH_FILLED"
	EventPartialFill Event = "PARTIAL_FILL"
	EventBothFailed  Event = "BOTH_FAILED"
	EventSettle      Event = "SETTLE"
)

type StateMachine struct {
	mu    sync.Mutex
	Phase Phase
}

func NewStateMachine() *StateMachine {
	return &StateMachine{Phase: PhaseIdle}
}

func (s *StateMachine) Apply(event Event) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = nextPhase(s.Phase, event)
	return s.Phase
}

func (s *StateMachine) Current() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}

func nextPhase(current Phase, event Event) Phase {
	switch current {
	case PhaseIdle:
		if event == EventSubmit {
			return PhaseSubmitting
		}
	case PhaseSubmitting:
		switch event {
		case EventBothFilled:
			return PhaseBothFilled
		case EventPartialFill:
			return PhasePartialFill
		case EventBothFailed:
			return PhaseBothFailed
		}
	case PhaseBothFilled, PhasePartialFill, PhaseBothFailed:
		if event == EventSettle {
			return PhaseIdle
		}
	}
	return current
}
