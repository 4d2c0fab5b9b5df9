package v4l

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/utils"
)

var errSessionClosed = errors.New("session closed")

// closeWait bounds how long Close waits for the stream goroutine.
const closeWait = 3 * time.Second

// streamer is the part of stream a Session drives.
type streamer interface {
	Start(format v4l2.FourCCType, width, height int) (<-chan []byte, error)
	Stop() error
	Update(settings Settings)
	SetControlValue(key v4l2.CtrlID, value v4l2.CtrlValue) error
	Control(id v4l2.CtrlID) (v4l2.Control, error)
}

// Session streams YUYV preview frames and turns each frame into a capture
// result for the active request. Stills are taken by stopping the preview,
// grabbing one JPEG frame at still size and resuming the preview.
type Session struct {
	stream streamer
	sink   camera.EventSink
	ctrls  map[v4l2.CtrlID]v4l2.Control
	iso    isoScale

	preview camera.Size
	still   camera.Size
	pool    sync.Pool

	mu        sync.Mutex
	repeating *camera.Request
	queue     []camera.Request
	afPending bool
	metering  bool

	wake      chan struct{}
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

func newSession(s streamer, sink camera.EventSink, ctrls map[v4l2.CtrlID]v4l2.Control, preview, still camera.Size) *Session {
	sess := &Session{
		stream:  s,
		sink:    sink,
		ctrls:   ctrls,
		iso:     newIsoScale(ctrls[CtrlIsoSensitivity]),
		preview: preview,
		still:   still,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	sess.pool.New = func() any { return make([]byte, preview.Width*preview.Height) }

	return sess
}

func (s *Session) SetRepeatingRequest(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return errSessionClosed
	}
	s.repeating = &req
	s.stream.Update(requestSettings(req, s.iso))
	s.trigger(req)

	return nil
}

func (s *Session) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeating = nil

	return nil
}

func (s *Session) Capture(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return errSessionClosed
	}
	s.queue = append(s.queue, req)
	if req.Tag != camera.TagStill {
		s.trigger(req)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}

	return nil
}

// Close signals the stream goroutine and waits until it has stopped the
// device, so the node is free for the next open.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })

	select {
	case <-s.done:
		return nil
	case <-time.After(closeWait):
		return errors.New("timed out waiting for the stream to stop")
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// trigger fires the one-shot controls of req. Callers hold mu.
func (s *Session) trigger(req camera.Request) {
	switch req.AFTrigger {
	case camera.AFTriggerStart:
		if s.afPending {
			return
		}
		s.afPending = true
		// button controls do not answer GetControl, so they are never probed
		if err := s.stream.SetControlValue(CtrlAFStart, 1); err != nil {
			s.afError("start auto focus", err)
		}
	case camera.AFTriggerCancel:
		s.afPending = false
		if err := s.stream.SetControlValue(CtrlAFStop, 1); err != nil {
			s.afError("stop auto focus", err)
		}
	}
	if req.PrecaptureTrigger == camera.PrecaptureStart {
		s.metering = true
	}
}

// afError logs a rejected AF trigger. Fixed-focus cameras reject it by
// nature.
func (s *Session) afError(what string, err error) {
	if s.hasCtrl(CtrlAFStatus) {
		logger.Warnf("%s: %s", what, err)
		return
	}
	logger.Debugf("%s: %s", what, err)
}

func (s *Session) run(frames <-chan []byte) {
	defer close(s.done)
	defer func() { _ = s.stream.Stop() }()

	for {
		select {
		case <-s.quit:
			logger.Debug("session closed")
			return
		case <-s.wake:
			if still, ok := s.nextStill(); ok {
				frames = s.shoot(still)
			}
		case frame, ok := <-frames:
			if !ok {
				logger.Warn("preview stream closed")
				s.sink.Post(camera.DeviceDisconnected{})
				frames = nil
				continue
			}
			s.handleFrame(frame)
		}
	}
}

// nextStill pops a still request if it is next in the queue. One-shots ahead
// of it are answered by preview frames first.
func (s *Session) nextStill() (camera.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 || s.queue[0].Tag != camera.TagStill {
		return camera.Request{}, false
	}
	req := s.queue[0]
	s.queue = s.queue[1:]

	return req, true
}

func (s *Session) handleFrame(frame []byte) {
	s.mu.Lock()
	var req camera.Request
	switch {
	case len(s.queue) > 0 && s.queue[0].Tag != camera.TagStill:
		req = s.queue[0]
		s.queue = s.queue[1:]
	case s.repeating != nil:
		req = s.repeating.Clone()
	default:
		s.mu.Unlock()
		return
	}
	result := s.result(req)
	s.mu.Unlock()

	s.sink.Post(result)
	if req.HasTarget(camera.StreamDecode) && len(frame) >= s.preview.Width*s.preview.Height*2 {
		y := s.pool.Get().([]byte)
		utils.YUYVToGray(frame, y, s.preview.Width, s.preview.Height)
		s.sink.Post(camera.PreviewImage{
			Frame: camera.NewFrame(y, s.preview.Width, s.preview.Height, s.preview.Width, func() { s.pool.Put(y) }),
		})
	}
	s.mu.Lock()
	pending := len(s.queue) > 0 && s.queue[0].Tag == camera.TagStill
	s.mu.Unlock()
	if pending {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// result builds the 3A state for req. UVC devices do not report AE state, so
// auto exposure is reported converged once a precapture has been seen.
// Callers hold mu.
func (s *Session) result(req camera.Request) camera.CaptureResult {
	r := camera.CaptureResult{Tag: req.Tag}

	switch {
	case !s.afPending:
		if req.AFMode == camera.AFModeContinuousPicture {
			r.AFState = camera.AFStatePassiveFocused
		}
	case s.hasCtrl(CtrlAFStatus):
		ctrl, err := s.stream.Control(CtrlAFStatus)
		if err != nil {
			r.AFState = camera.AFStateFocusedLocked
			break
		}
		r.AFState = afState(ctrl.Value)
		if r.AFState == camera.AFStateInactive {
			r.AFState = camera.AFStateFocusedLocked
		}
	default:
		// fixed focus
		r.AFState = camera.AFStateFocusedLocked
	}

	switch {
	case req.AEMode == camera.AEModeOff:
		r.AEState = camera.AEStateInactive
	case s.metering:
		s.metering = false
		r.AEState = camera.AEStatePrecapture
	default:
		r.AEState = camera.AEStateConverged
	}

	return r
}

func (s *Session) hasCtrl(id v4l2.CtrlID) bool {
	_, ok := s.ctrls[id]
	return ok
}

// shoot captures one JPEG still and returns the resumed preview stream.
func (s *Session) shoot(req camera.Request) <-chan []byte {
	s.stream.Update(requestSettings(req, s.iso))
	if err := s.stream.Stop(); err != nil {
		logger.Warnf("stop preview: %s", err)
	}

	img, err := s.grab()
	if err != nil {
		s.sink.Post(camera.StillCaptureFailed{Reason: err.Error()})
	} else {
		s.sink.Post(camera.StillImage{Data: img})
		s.sink.Post(camera.StillCaptureCompleted{})
	}
	if s.closed() {
		return nil
	}

	frames, err := s.resumePreview()
	if err != nil {
		logger.Errorf("failed to resume preview after capture: %v", err)
		s.sink.Post(camera.DeviceError{Err: err})
		return nil
	}

	return frames
}

func (s *Session) grab() ([]byte, error) {
	frames, err := s.stream.Start(v4l2.PixelFmtJPEG, s.still.Width, s.still.Height)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.stream.Stop() }()

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, errors.New("capture stream closed")
		}
		return append([]byte(nil), frame...), nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("timed out waiting for a still frame")
	case <-s.quit:
		return nil, errSessionClosed
	}
}

// resumePreview restarts the preview stream, retrying while the driver is
// still releasing the device.
func (s *Session) resumePreview() (<-chan []byte, error) {
	time.Sleep(50 * time.Millisecond)
	var (
		fr  <-chan []byte
		err error
	)
	for i := 0; i < 5; i++ {
		fr, err = s.stream.Start(v4l2.PixelFmtYUYV, s.preview.Width, s.preview.Height)
		if err == nil {
			return fr, nil
		}
		if !isBusyErr(err) {
			break
		}
		logger.Warnf("failed to resume preview will retry %d/5: %v", i+1, err)
		time.Sleep(150 * time.Millisecond)
	}
	return nil, err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "busy") || strings.Contains(s, "ebusy")
}
