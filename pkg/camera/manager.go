package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

var (
	ErrNotRunning        = errors.New("camera worker not running")
	ErrAlreadyOpen       = errors.New("camera already open")
	ErrUnsupportedDevice = errors.New("no usable camera")
	ErrOpenTimeout       = errors.New("time out waiting to lock camera opening")
	ErrOpenInterrupted   = errors.New("interrupted while trying to lock camera opening")
)

// Device lifecycle states.
const (
	LifecycleClosed  = "closed"
	LifecycleOpening = "opening"
	LifecycleOpened  = "opened"
	LifecycleReady   = "ready"
)

const defaultQueueSize = 64

type Options struct {
	Device   Device
	Decoder  Decoder
	Listener Listener
	Stills   StillSink

	// Viewport is the display area the preview size is fitted to.
	Viewport Size
	Rotation func() Rotation

	// OpenTimeout bounds the wait for the open lock. Defaults to 2.5s.
	OpenTimeout time.Duration
	QueueSize   int

	// OnTransition observes capture state changes on the event loop.
	OnTransition func(from, to CaptureState)

	Now func() time.Time
}

// Status is a point-in-time view of the camera.
type Status struct {
	Lifecycle string `json:"lifecycle"`
	CameraID  string `json:"cameraId"`
	Mode      string `json:"mode"`
	Focus     string `json:"focus"`
	State     string `json:"state"`

	ExposureTime time.Duration `json:"exposureTime"`
	Iso          int           `json:"iso"`

	PreviewSize   Size           `json:"previewSize"`
	StillSize     Size           `json:"stillSize"`
	IsoRange      SupportedRange `json:"isoRange"`
	ExposureRange SupportedRange `json:"exposureRange"`
}

// Manager opens and closes the camera and serialises all device callbacks
// and host commands on one event loop goroutine.
type Manager struct {
	opts      Options
	listener  Listener
	lock      *openLock
	lifecycle *fsm.FSM

	mu        sync.RWMutex
	running   bool
	accepting bool
	inbox     chan Event
	quit      chan struct{}
	wg        sync.WaitGroup

	// owned by the event loop
	machine     *StateMachine
	session     *SessionController
	camera      Camera
	frames      *FrameChannel
	releaseOpen func()
	info        Characteristics
	outputs     []Output
	isoRange    SupportedRange
	expRange    SupportedRange
}

func NewManager(opts Options) *Manager {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenLockTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	listener := opts.Listener
	if listener == nil {
		listener = nopListener{}
	}

	m := &Manager{
		opts:     opts,
		listener: listener,
		lock:     newOpenLock(),
		machine:  &StateMachine{OnTransition: opts.OnTransition},
	}
	m.session = NewSessionController(m.machine, listener, opts.Rotation)
	m.lifecycle = fsm.NewFSM(
		LifecycleClosed,
		fsm.Events{
			{Name: "open", Src: []string{LifecycleClosed}, Dst: LifecycleOpening},
			{Name: "opened", Src: []string{LifecycleOpening}, Dst: LifecycleOpened},
			{Name: "configured", Src: []string{LifecycleOpened}, Dst: LifecycleReady},
			{Name: "close", Src: []string{LifecycleOpening, LifecycleOpened, LifecycleReady}, Dst: LifecycleClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Infof("camera %s -> %s", e.Src, e.Dst)
			},
		},
	)

	return m
}

// Resume starts the event loop and opens the camera.
func (m *Manager) Resume(ctx context.Context) error {
	m.start()
	return m.open(ctx)
}

// Pause stops host commands, closes the camera and joins the workers.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.accepting = false
	m.mu.Unlock()

	m.close()
	m.stop()
}

// Lifecycle returns the device lifecycle state.
func (m *Manager) Lifecycle() string {
	return m.lifecycle.Current()
}

func (m *Manager) ChangeMode(mode CameraMode) error {
	return m.post(func() error { return m.session.SetMode(mode) })
}

func (m *Manager) SwitchToAutoMode() error {
	return m.post(m.session.SwitchToAuto)
}

func (m *Manager) SwitchToManualMode() error {
	return m.post(m.session.SwitchToManual)
}

func (m *Manager) SetExposure(d time.Duration) error {
	return m.post(func() error { return m.session.SetExposure(d) })
}

func (m *Manager) SetIso(iso int) error {
	return m.post(func() error { return m.session.SetIso(iso) })
}

// TakePicture starts a still sequence on the loop and reports whether it
// was accepted.
func (m *Manager) TakePicture() error {
	m.mu.RLock()
	accepting := m.accepting
	m.mu.RUnlock()
	if !accepting {
		return ErrNotRunning
	}

	var err error
	if cerr := m.call(func() { err = m.session.TakePicture() }); cerr != nil {
		return cerr
	}

	return err
}

// Status waits behind queued commands and reports the camera state.
func (m *Manager) Status() (Status, error) {
	var st Status
	err := m.call(func() {
		mode, focus, exposure, iso := m.session.Snapshot()
		st = Status{
			Lifecycle:     m.lifecycle.Current(),
			CameraID:      m.info.ID,
			Mode:          mode.String(),
			Focus:         focus.String(),
			State:         m.machine.State().String(),
			ExposureTime:  exposure,
			Iso:           iso,
			IsoRange:      m.isoRange,
			ExposureRange: m.expRange,
		}
		for _, o := range m.outputs {
			switch o.Stream {
			case StreamDisplay:
				st.PreviewSize = o.Size
			case StreamStill:
				st.StillSize = o.Size
			}
		}
	})

	return st, err
}

// Post implements EventSink for devices.
func (m *Manager) Post(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		discard(ev)
		return
	}
	m.inbox <- ev
}

func (m *Manager) start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accepting = true
	if m.running {
		return
	}
	m.running = true
	m.inbox = make(chan Event, m.opts.QueueSize)
	m.quit = make(chan struct{})

	m.wg.Add(1)
	go m.loop(m.inbox, m.quit)
}

func (m *Manager) stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.accepting = false
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) loop(inbox <-chan Event, quit <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case ev := <-inbox:
			m.dispatch(ev)
		case <-quit:
			for {
				select {
				case ev := <-inbox:
					discard(ev)
				default:
					return
				}
			}
		}
	}
}

// post queues fn as a host command.
func (m *Manager) post(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running || !m.accepting {
		return ErrNotRunning
	}
	m.inbox <- command{fn: func() {
		if err := fn(); err != nil {
			logger.Warnf("camera command: %s", err)
		}
	}}

	return nil
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	ran := false
	done := make(chan struct{})

	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return ErrNotRunning
	}
	quit := m.quit
	m.inbox <- command{fn: func() { fn(); ran = true }, done: done}
	m.mu.RUnlock()

	select {
	case <-done:
	case <-quit:
		// the loop may still be draining; wait for it to close done
		<-done
	}
	if !ran {
		return ErrNotRunning
	}

	return nil
}

func (m *Manager) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("camera loop: handling %T: %v", ev, r)
		}
	}()

	switch e := ev.(type) {
	case command:
		if e.done != nil {
			defer close(e.done)
		}
		e.fn()
	case DeviceOpened:
		m.onOpened(e.Camera)
	case DeviceDisconnected:
		m.unlockOpen()
		logger.Warn("camera disconnected")
		m.teardown()
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "camera disconnected"})
	case DeviceError:
		m.unlockOpen()
		logger.Errorf("camera error: %s", e.Err)
		m.teardown()
		m.listener.OnNotice(Notice{Severity: SeverityFatal, Message: "camera error", Err: e.Err})
	case SessionConfigured:
		m.onConfigured(e.Session)
	case SessionConfigureFailed:
		logger.Errorf("configure capture session: %s", e.Err)
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "failed to configure capture session", Err: e.Err})
	case CaptureResult:
		m.session.HandleResult(e)
	case StillCaptureCompleted:
		m.session.StillCompleted()
	case StillCaptureFailed:
		m.session.StillFailed(e.Reason)
	case PreviewImage:
		if m.frames == nil {
			e.Frame.Release()
			return
		}
		m.frames.Publish(e.Frame)
	case StillImage:
		m.saveStill(e.Data)
	default:
		logger.Warnf("camera loop: unknown event %T", ev)
	}
}

// discard drops an event that reached a stopped loop, releasing what it owns.
func discard(ev Event) {
	switch e := ev.(type) {
	case command:
		if e.done != nil {
			close(e.done)
		}
	case PreviewImage:
		e.Frame.Release()
	case DeviceOpened:
		_ = e.Camera.Close()
	case SessionConfigured:
		_ = e.Session.Close()
	}
}

func (m *Manager) open(ctx context.Context) error {
	if m.lifecycle.Current() != LifecycleClosed {
		return ErrAlreadyOpen
	}

	info, err := m.selectCamera()
	if err != nil {
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "device is not supported", Err: err})
		return err
	}

	isoRange := SupportedIso(info.IsoRange)
	expRange := SupportedExposures(info.ExposureRange)
	m.listener.OnIsoRangeLoaded(isoRange.Values, isoRange.DefaultIndex)
	m.listener.OnExposureRangeLoaded(expRange.Values, expRange.DefaultIndex)

	outputs, err := m.chooseOutputs(info)
	if err != nil {
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "device is not supported", Err: err})
		return err
	}

	release, err := m.lock.acquire(ctx, m.opts.OpenTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrOpenTimeout
		} else {
			err = fmt.Errorf("%w: %w", ErrOpenInterrupted, err)
		}
		m.listener.OnNotice(Notice{Severity: SeverityFatal, Message: "camera unavailable", Err: err})
		return err
	}

	err = m.call(func() {
		m.info = info
		m.isoRange = isoRange
		m.expRange = expRange
		m.outputs = outputs
		m.releaseOpen = release
		m.frames = NewFrameChannel()
		if m.opts.Decoder != nil {
			w := NewDecodeWorker(m.frames, m.opts.Decoder, m.listener.OnFound)
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				w.Run()
			}()
		}
		m.transition("open")
	})
	if err != nil {
		release()
		return err
	}

	logger.Infof("opening camera %s", info.ID)
	if err := m.opts.Device.Open(info.ID, m); err != nil {
		_ = m.call(m.teardown)
		err = fmt.Errorf("open camera %s: %w", info.ID, err)
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "failed to open camera", Err: err})
		return err
	}

	return nil
}

// close blocks until the open lock is free and tears the camera down. It is
// safe without a prior open and when repeated.
func (m *Manager) close() {
	release, _ := m.lock.acquire(context.Background(), 0)
	defer release()

	if err := m.call(m.teardown); err != nil {
		logger.Debugf("close camera: %s", err)
	}
}

func (m *Manager) selectCamera() (Characteristics, error) {
	cams, err := m.opts.Device.Cameras()
	if err != nil {
		return Characteristics{}, fmt.Errorf("%w: %w", ErrUnsupportedDevice, err)
	}
	for _, c := range cams {
		if c.Facing == FacingFront {
			continue
		}
		return c, nil
	}

	return Characteristics{}, ErrUnsupportedDevice
}

func (m *Manager) chooseOutputs(info Characteristics) ([]Output, error) {
	still, err := LargestSize(info.StillSizes)
	if err != nil {
		return nil, fmt.Errorf("still sizes: %w", err)
	}
	vp := m.opts.Viewport
	preview, ok, err := ChooseOptimalSize(info.PreviewSizes, vp.Width, vp.Height, still)
	if err != nil {
		return nil, fmt.Errorf("preview sizes: %w", err)
	}
	if !ok {
		logger.Errorf("couldn't find any suitable preview size for %s, using %s", vp, preview)
		m.listener.OnNotice(Notice{
			Severity: SeverityDegraded,
			Message:  fmt.Sprintf("no preview size fits %s with aspect of %s, using %s", vp, still, preview),
		})
	}
	logger.Infof("camera %s: preview %s, still %s", info.ID, preview, still)

	return []Output{
		{Stream: StreamDisplay, Size: preview},
		{Stream: StreamDecode, Size: preview},
		{Stream: StreamStill, Size: still},
	}, nil
}

func (m *Manager) onOpened(c Camera) {
	m.unlockOpen()
	if m.lifecycle.Current() != LifecycleOpening {
		logger.Warn("camera opened after close, closing it")
		_ = c.Close()
		return
	}
	m.camera = c
	m.transition("opened")
	if err := c.CreateSession(m.outputs); err != nil {
		logger.Errorf("create capture session: %s", err)
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "failed to configure capture session", Err: err})
	}
}

func (m *Manager) onConfigured(s Session) {
	if m.camera == nil || m.lifecycle.Current() != LifecycleOpened {
		_ = s.Close()
		return
	}
	if err := m.session.Start(s); err != nil {
		logger.Errorf("start preview: %s", err)
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "failed to start preview", Err: err})
		return
	}
	m.transition("configured")
}

// teardown closes session, camera and preview reader in that order.
func (m *Manager) teardown() {
	if err := m.session.Close(); err != nil {
		logger.Warnf("close session: %s", err)
	}
	if m.camera != nil {
		if err := m.camera.Close(); err != nil {
			logger.Warnf("close camera: %s", err)
		}
		m.camera = nil
	}
	if m.frames != nil {
		m.frames.Close()
		m.frames = nil
	}
	m.unlockOpen()
	m.transition("close")
}

func (m *Manager) unlockOpen() {
	if m.releaseOpen != nil {
		m.releaseOpen()
		m.releaseOpen = nil
	}
}

func (m *Manager) transition(event string) {
	if !m.lifecycle.Can(event) {
		return
	}
	if err := m.lifecycle.Event(context.Background(), event); err != nil {
		logger.Warnf("camera lifecycle %s: %s", event, err)
	}
}

func (m *Manager) saveStill(data []byte) {
	name := m.opts.Now().Format(StillLayout) + ".jpg"
	if m.opts.Stills == nil {
		logger.Warnf("no still sink, dropping %s (%d bytes)", name, len(data))
		return
	}
	if err := m.opts.Stills.SaveStill(name, data); err != nil {
		logger.Errorf("save still %s: %s", name, err)
		m.listener.OnNotice(Notice{Severity: SeverityDegraded, Message: "failed to save " + name, Err: err})
		return
	}
	logger.Infof("still saved as %s", name)
}
