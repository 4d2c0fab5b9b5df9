package camera

import "time"

type Facing int

const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

type DurationRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

func (r DurationRange) Contains(d time.Duration) bool {
	return d >= r.Min && d <= r.Max
}

// Characteristics describes one physical camera.
type Characteristics struct {
	ID     string `json:"id"`
	Facing Facing `json:"facing"`

	IsoRange      IntRange      `json:"isoRange"`
	ExposureRange DurationRange `json:"exposureRange"`

	// Sizes the device can encode as JPEG.
	StillSizes []Size `json:"stillSizes"`
	// Sizes the device can stream for display and decode.
	PreviewSizes []Size `json:"previewSizes"`
}

// Device enumerates and opens cameras. Open is asynchronous: the outcome is
// delivered to sink as DeviceOpened, DeviceDisconnected or DeviceError.
type Device interface {
	Cameras() ([]Characteristics, error)
	Open(id string, sink EventSink) error
}

// Camera is an opened device. CreateSession answers with SessionConfigured or
// SessionConfigureFailed on the sink given to Open.
type Camera interface {
	CreateSession(outputs []Output) error
	Close() error
}

// Session submits requests. Results of every request are delivered as
// CaptureResult events in submission order; a still request ends with
// StillCaptureCompleted or StillCaptureFailed.
type Session interface {
	SetRepeatingRequest(req Request) error
	StopRepeating() error
	Capture(req Request) error
	Close() error
}

// EventSink receives device notifications.
type EventSink interface {
	Post(ev Event)
}
