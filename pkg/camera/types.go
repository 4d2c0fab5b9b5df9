package camera

import (
	"fmt"
	"time"
)

// CaptureState is the still-capture progress of the session. It is only read
// and written on the camera event loop.
type CaptureState int

const (
	StatePreview CaptureState = iota
	StateWaitingFocusLock
	StateWaitingPrecapture
	StateWaitingNonPrecapture
	StatePictureTaken
)

func (s CaptureState) String() string {
	switch s {
	case StatePreview:
		return "preview"
	case StateWaitingFocusLock:
		return "waiting_focus_lock"
	case StateWaitingPrecapture:
		return "waiting_precapture"
	case StateWaitingNonPrecapture:
		return "waiting_non_precapture"
	case StatePictureTaken:
		return "picture_taken"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CameraMode selects which consumer stream rides on the repeating request.
type CameraMode int

const (
	ModePhoto CameraMode = iota
	ModeScan
)

func (m CameraMode) String() string {
	if m == ModeScan {
		return "scan"
	}
	return "photo"
}

// ParseCameraMode accepts "photo" or "scan".
func ParseCameraMode(s string) (CameraMode, error) {
	switch s {
	case "photo":
		return ModePhoto, nil
	case "scan":
		return ModeScan, nil
	}
	return ModePhoto, fmt.Errorf("unknown camera mode %q", s)
}

type FocusMode int

const (
	FocusAutomatic FocusMode = iota
	FocusManual
)

func (m FocusMode) String() string {
	if m == FocusManual {
		return "manual"
	}
	return "auto"
}

type AFState int

const (
	AFStateInactive AFState = iota
	AFStatePassiveScan
	AFStatePassiveFocused
	AFStateActiveScan
	AFStateFocusedLocked
	AFStateNotFocusedLocked
	AFStatePassiveUnfocused
)

// Locked reports whether the AF routine has finished a triggered scan.
func (s AFState) Locked() bool {
	return s == AFStateFocusedLocked || s == AFStateNotFocusedLocked
}

type AEState int

const (
	AEStateInactive AEState = iota
	AEStateSearching
	AEStateConverged
	AEStateLocked
	AEStateFlashRequired
	AEStatePrecapture
)

type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeContinuousPicture
)

type AFTrigger int

const (
	AFTriggerIdle AFTrigger = iota
	AFTriggerStart
	AFTriggerCancel
)

type AEMode int

const (
	AEModeOff AEMode = iota
	AEModeOn
	AEModeOnAutoFlash
)

type PrecaptureTrigger int

const (
	PrecaptureIdle PrecaptureTrigger = iota
	PrecaptureStart
)

// Stream identifies a session output surface.
type Stream int

const (
	StreamDisplay Stream = iota
	StreamDecode
	StreamStill
)

func (s Stream) String() string {
	switch s {
	case StreamDisplay:
		return "display"
	case StreamDecode:
		return "decode"
	case StreamStill:
		return "still"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

type Template int

const (
	TemplatePreview Template = iota
	TemplateStill
)

// RequestTag marks what a request was issued for. Devices echo it back on
// every CaptureResult produced by that request.
type RequestTag int

const (
	TagPreview RequestTag = iota
	TagPrecapture
	TagStill
	TagUnlock
)

// Rotation is the host display rotation in degrees.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

var jpegOrientations = map[Rotation]int{
	Rotation0:   90,
	Rotation90:  0,
	Rotation180: 270,
	Rotation270: 180,
}

// JPEGOrientation maps a display rotation to the still JPEG orientation.
func JPEGOrientation(r Rotation) int {
	return jpegOrientations[r]
}

// Request is a set of capture controls and target streams. It is a value:
// copying it yields an independent request.
type Request struct {
	Template Template
	Tag      RequestTag
	Targets  []Stream

	AFMode            AFMode
	AFTrigger         AFTrigger
	AEMode            AEMode
	PrecaptureTrigger PrecaptureTrigger

	// Only honoured when AEMode is AEModeOff.
	ExposureTime time.Duration
	Sensitivity  int

	JPEGOrientation int
}

func (r *Request) AddTarget(s Stream) {
	if r.HasTarget(s) {
		return
	}
	r.Targets = append(r.Targets, s)
}

func (r *Request) RemoveTarget(s Stream) {
	targets := r.Targets[:0:0]
	for _, t := range r.Targets {
		if t != s {
			targets = append(targets, t)
		}
	}
	r.Targets = targets
}

func (r Request) HasTarget(s Stream) bool {
	for _, t := range r.Targets {
		if t == s {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the target slice.
func (r Request) Clone() Request {
	r.Targets = append([]Stream(nil), r.Targets...)
	return r
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Output is one stream the session is configured with.
type Output struct {
	Stream Stream
	Size   Size
}
