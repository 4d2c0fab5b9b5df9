// Package sim is a scripted camera used when no sensor is attached. Preview
// frames show a QR code and the 3A routines settle after a fixed number of
// frames.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/decode"
	"qr-shutter-pi/pkg/utils"
)

const cameraID = "sim0"

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("sim")
}

type Config struct {
	// Payload is the text encoded in every preview frame.
	Payload string
	FPS     int

	// FocusFrames is how many results report an active AF scan after a
	// trigger.
	FocusFrames int
	// PrecaptureFrames is how many results report AE precapture metering.
	PrecaptureFrames int
	// FlashRequired makes auto-flash AE ask for a precapture sequence.
	FlashRequired bool

	JPEGQuality int
}

func (c *Config) setDefaults() {
	if c.Payload == "" {
		c.Payload = "qr-shutter-pi"
	}
	if c.FPS <= 0 {
		c.FPS = 15
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 90
	}
}

type Device struct {
	cfg Config
}

func New(cfg Config) *Device {
	cfg.setDefaults()
	return &Device{cfg: cfg}
}

func (d *Device) Cameras() ([]camera.Characteristics, error) {
	return []camera.Characteristics{{
		ID:            cameraID,
		Facing:        camera.FacingBack,
		IsoRange:      camera.IntRange{Min: 50, Max: 3200},
		ExposureRange: camera.DurationRange{Min: 100 * time.Microsecond, Max: time.Second},
		StillSizes:    []camera.Size{{Width: 1600, Height: 1200}, {Width: 1280, Height: 960}, {Width: 640, Height: 480}},
		PreviewSizes:  []camera.Size{{Width: 1280, Height: 720}, {Width: 1024, Height: 768}, {Width: 800, Height: 600}, {Width: 640, Height: 480}},
	}}, nil
}

func (d *Device) Open(id string, sink camera.EventSink) error {
	if id != cameraID {
		return fmt.Errorf("unknown camera %q", id)
	}
	go sink.Post(camera.DeviceOpened{Camera: &Camera{cfg: d.cfg, sink: sink}})

	return nil
}

type Camera struct {
	cfg  Config
	sink camera.EventSink

	mu      sync.Mutex
	session *Session
}

func (c *Camera) CreateSession(outputs []camera.Output) error {
	var preview, still camera.Size
	for _, o := range outputs {
		switch o.Stream {
		case camera.StreamDecode, camera.StreamDisplay:
			preview = o.Size
		case camera.StreamStill:
			still = o.Size
		}
	}
	if preview.Area() == 0 || still.Area() == 0 {
		go c.sink.Post(camera.SessionConfigureFailed{Err: errors.New("preview and still outputs are required")})
		return nil
	}

	s, err := newSession(c.cfg, c.sink, preview, still)
	if err != nil {
		go c.sink.Post(camera.SessionConfigureFailed{Err: err})
		return nil
	}

	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
	}
	c.session = s
	c.mu.Unlock()

	go s.run()
	go c.sink.Post(camera.SessionConfigured{Session: s})

	return nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}

	return nil
}

// Session emits one result per frame interval, draining one-shot captures
// ahead of the repeating request.
type Session struct {
	cfg  Config
	sink camera.EventSink

	preview camera.Size
	still   *image.Gray
	frame   *image.Gray
	pool    sync.Pool

	mu        sync.Mutex
	repeating *camera.Request
	queue     []camera.Request
	af        afState
	ae        aeState

	closeOnce sync.Once
	quit      chan struct{}
}

type afState struct {
	scanning int
	locked   bool
}

type aeState struct {
	metering int
	metered  bool
}

func newSession(cfg Config, sink camera.EventSink, preview, still camera.Size) (*Session, error) {
	frame, err := decode.Render(cfg.Payload, preview.Width, preview.Height)
	if err != nil {
		return nil, err
	}
	stillImg, err := decode.Render(cfg.Payload, still.Width, still.Height)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		sink:    sink,
		preview: preview,
		still:   stillImg,
		frame:   frame,
		quit:    make(chan struct{}),
	}
	s.pool.New = func() any { return make([]byte, len(frame.Pix)) }

	return s, nil
}

func (s *Session) SetRepeatingRequest(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return errSessionClosed
	}
	s.repeating = &req

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

	return nil
}

// Close stops the frame ticker. A result already being delivered may still
// arrive after Close returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })

	return nil
}

var errSessionClosed = errors.New("session closed")

func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) run() {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			logger.Debug("session closed")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	var req camera.Request
	switch {
	case len(s.queue) > 0:
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

	if req.Tag == camera.TagStill {
		s.shoot(req)
		return
	}
	s.sink.Post(result)
	if req.HasTarget(camera.StreamDecode) {
		s.sink.Post(camera.PreviewImage{Frame: s.nextFrame()})
	}
}

// result advances the simulated 3A routines by one frame. Callers hold mu.
func (s *Session) result(req camera.Request) camera.CaptureResult {
	r := camera.CaptureResult{Tag: req.Tag}

	switch req.AFTrigger {
	case camera.AFTriggerStart:
		if !s.af.locked && s.af.scanning == 0 {
			s.af.scanning = s.cfg.FocusFrames
			s.af.locked = s.cfg.FocusFrames == 0
		}
	case camera.AFTriggerCancel:
		s.af = afState{}
		s.ae.metered = false
	}
	switch {
	case s.af.scanning > 0:
		s.af.scanning--
		s.af.locked = s.af.scanning == 0
		r.AFState = camera.AFStateActiveScan
	case s.af.locked:
		r.AFState = camera.AFStateFocusedLocked
	case req.AFMode == camera.AFModeContinuousPicture:
		r.AFState = camera.AFStatePassiveFocused
	default:
		r.AFState = camera.AFStateInactive
	}

	if req.PrecaptureTrigger == camera.PrecaptureStart {
		s.ae.metering = max(s.cfg.PrecaptureFrames, 1)
	}
	switch {
	case req.AEMode == camera.AEModeOff:
		r.AEState = camera.AEStateInactive
	case s.ae.metering > 0:
		s.ae.metering--
		s.ae.metered = s.ae.metering == 0
		r.AEState = camera.AEStatePrecapture
	case s.cfg.FlashRequired && req.AEMode == camera.AEModeOnAutoFlash && !s.ae.metered:
		r.AEState = camera.AEStateFlashRequired
	default:
		r.AEState = camera.AEStateConverged
	}

	return r
}

func (s *Session) shoot(req camera.Request) {
	var buf bytes.Buffer
	if err := utils.EncodeJPEG(s.still, &buf, s.cfg.JPEGQuality); err != nil {
		s.sink.Post(camera.StillCaptureFailed{Reason: err.Error()})
		return
	}
	logger.Debugf("still %dx%d, orientation %d, %d bytes",
		s.still.Rect.Dx(), s.still.Rect.Dy(), req.JPEGOrientation, buf.Len())
	s.sink.Post(camera.StillImage{Data: buf.Bytes()})
	s.sink.Post(camera.StillCaptureCompleted{})
}

func (s *Session) nextFrame() *camera.Frame {
	y := s.pool.Get().([]byte)
	copy(y, s.frame.Pix)

	return camera.NewFrame(y, s.preview.Width, s.preview.Height, s.frame.Stride, func() {
		s.pool.Put(y)
	})
}
