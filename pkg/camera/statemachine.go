package camera

import "qr-shutter-pi/pkg/metrics"

// Action is the side effect the session controller must perform after a
// state transition.
type Action int

const (
	ActionNone Action = iota
	ActionRunPrecapture
	ActionCaptureStill
)

func (a Action) String() string {
	switch a {
	case ActionRunPrecapture:
		return "run_precapture"
	case ActionCaptureStill:
		return "capture_still"
	default:
		return "none"
	}
}

// Advance consumes one capture result and returns the next state together
// with at most one action. It has no side effects.
func Advance(state CaptureState, r CaptureResult) (CaptureState, Action) {
	switch state {
	case StateWaitingFocusLock:
		if !r.AFState.Locked() {
			return state, ActionNone
		}
		if r.AEState == AEStateConverged {
			return StateWaitingNonPrecapture, ActionCaptureStill
		}
		return StateWaitingPrecapture, ActionRunPrecapture
	case StateWaitingPrecapture:
		if r.AEState == AEStatePrecapture || r.AEState == AEStateFlashRequired {
			return StateWaitingNonPrecapture, ActionNone
		}
		return state, ActionNone
	case StateWaitingNonPrecapture:
		if r.AEState != AEStatePrecapture {
			return StatePictureTaken, ActionCaptureStill
		}
		return state, ActionNone
	default:
		// Preview and PictureTaken wait for the host or the still callback.
		return state, ActionNone
	}
}

// StateMachine holds the current CaptureState. It is owned by the event loop.
type StateMachine struct {
	state CaptureState

	// Called on every change, including forced resets.
	OnTransition func(from, to CaptureState)
}

func (m *StateMachine) State() CaptureState {
	return m.state
}

func (m *StateMachine) set(to CaptureState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	metrics.CaptureState.Set(float64(to))
	logger.Debugf("capture state %s -> %s", from, to)
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// step applies Advance and returns the action to perform.
func (m *StateMachine) step(r CaptureResult) Action {
	next, action := Advance(m.state, r)
	m.set(next)

	return action
}
