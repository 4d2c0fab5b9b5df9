package camera

// Event is a message handled on the camera event loop.
type Event interface {
	event()
}

type DeviceOpened struct {
	Camera Camera
}

type DeviceDisconnected struct{}

type DeviceError struct {
	Err error
}

type SessionConfigured struct {
	Session Session
}

type SessionConfigureFailed struct {
	Err error
}

// CaptureResult carries the 3A state reported for one request.
type CaptureResult struct {
	Tag     RequestTag
	AFState AFState
	AEState AEState
}

type StillCaptureCompleted struct{}

type StillCaptureFailed struct {
	Reason string
}

// PreviewImage hands a decode-stream frame to the loop. The loop owns the
// frame from then on.
type PreviewImage struct {
	Frame *Frame
}

// StillImage is the encoded JPEG produced by a still request.
type StillImage struct {
	Data []byte
}

// command runs host work on the loop; done is closed afterwards when set.
type command struct {
	fn   func()
	done chan struct{}
}

func (DeviceOpened) event()           {}
func (DeviceDisconnected) event()     {}
func (DeviceError) event()            {}
func (SessionConfigured) event()      {}
func (SessionConfigureFailed) event() {}
func (CaptureResult) event()          {}
func (StillCaptureCompleted) event()  {}
func (StillCaptureFailed) event()     {}
func (PreviewImage) event()           {}
func (StillImage) event()             {}
func (command) event()                {}
