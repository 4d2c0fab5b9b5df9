package camera

import "testing"

func TestAdvance(t *testing.T) {
	cases := []struct {
		name   string
		state  CaptureState
		af     AFState
		ae     AEState
		next   CaptureState
		action Action
	}{
		{"preview ignores results", StatePreview, AFStateFocusedLocked, AEStateConverged, StatePreview, ActionNone},
		{"focus still scanning", StateWaitingFocusLock, AFStateActiveScan, AEStateConverged, StateWaitingFocusLock, ActionNone},
		{"focus locked and converged", StateWaitingFocusLock, AFStateFocusedLocked, AEStateConverged, StateWaitingNonPrecapture, ActionCaptureStill},
		{"not focused locked and converged", StateWaitingFocusLock, AFStateNotFocusedLocked, AEStateConverged, StateWaitingNonPrecapture, ActionCaptureStill},
		{"focus locked needs metering", StateWaitingFocusLock, AFStateFocusedLocked, AEStateSearching, StateWaitingPrecapture, ActionRunPrecapture},
		{"focus locked flash required", StateWaitingFocusLock, AFStateFocusedLocked, AEStateFlashRequired, StateWaitingPrecapture, ActionRunPrecapture},
		{"precapture started", StateWaitingPrecapture, AFStateFocusedLocked, AEStatePrecapture, StateWaitingNonPrecapture, ActionNone},
		{"precapture flash required", StateWaitingPrecapture, AFStateFocusedLocked, AEStateFlashRequired, StateWaitingNonPrecapture, ActionNone},
		{"precapture not yet started", StateWaitingPrecapture, AFStateFocusedLocked, AEStateSearching, StateWaitingPrecapture, ActionNone},
		{"metering running", StateWaitingNonPrecapture, AFStateFocusedLocked, AEStatePrecapture, StateWaitingNonPrecapture, ActionNone},
		{"metering done", StateWaitingNonPrecapture, AFStateFocusedLocked, AEStateConverged, StatePictureTaken, ActionCaptureStill},
		{"picture taken waits", StatePictureTaken, AFStateFocusedLocked, AEStateConverged, StatePictureTaken, ActionNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			next, action := Advance(c.state, CaptureResult{AFState: c.af, AEState: c.ae})
			if next != c.next || action != c.action {
				t.Fatalf("Advance(%s) = %s, %s; want %s, %s", c.state, next, action, c.next, c.action)
			}
		})
	}
}

func TestStateMachineTransitions(t *testing.T) {
	var seen []CaptureState
	m := &StateMachine{OnTransition: func(_, to CaptureState) { seen = append(seen, to) }}

	m.set(StateWaitingFocusLock)
	m.set(StateWaitingFocusLock)
	if a := m.step(CaptureResult{AFState: AFStateFocusedLocked, AEState: AEStateSearching}); a != ActionRunPrecapture {
		t.Fatalf("got action %s", a)
	}
	if a := m.step(CaptureResult{AEState: AEStateSearching}); a != ActionNone {
		t.Fatalf("got action %s", a)
	}

	want := []CaptureState{StateWaitingFocusLock, StateWaitingPrecapture}
	if len(seen) != len(want) {
		t.Fatalf("transitions %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions %v, want %v", seen, want)
		}
	}
}
