package camera

import (
	"errors"
	"fmt"
	"time"

	"qr-shutter-pi/pkg/metrics"
)

var (
	ErrNoSession         = errors.New("no capture session")
	ErrCaptureInProgress = errors.New("still capture already in progress")
)

// SessionController owns the repeating preview request and drives the
// still-capture sequence. All methods run on the camera event loop.
type SessionController struct {
	session Session
	preview Request

	mode     CameraMode
	focus    FocusMode
	exposure time.Duration
	iso      int

	machine  *StateMachine
	listener Listener
	rotation func() Rotation
}

func NewSessionController(machine *StateMachine, listener Listener, rotation func() Rotation) *SessionController {
	if listener == nil {
		listener = nopListener{}
	}
	if rotation == nil {
		rotation = func() Rotation { return Rotation0 }
	}
	return &SessionController{
		exposure: DefaultManualExposure,
		iso:      DefaultIso,
		machine:  machine,
		listener: listener,
		rotation: rotation,
	}
}

// Start builds the preview request for s and submits it as the repeating
// request.
func (c *SessionController) Start(s Session) error {
	c.session = s
	c.preview = Request{
		Template: TemplatePreview,
		Tag:      TagPreview,
		Targets:  []Stream{StreamDisplay},
		AFMode:   AFModeContinuousPicture,
	}
	c.applyMode()
	c.applyExposure()

	return c.submitRepeating()
}

// Close drops the session. An in-flight still sequence is abandoned.
func (c *SessionController) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.preview.AFTrigger = AFTriggerIdle
	c.machine.set(StatePreview)

	return err
}

func (c *SessionController) HasSession() bool {
	return c.session != nil
}

func (c *SessionController) SetMode(mode CameraMode) error {
	c.mode = mode
	c.applyMode()
	c.applyExposure()

	return c.resubmit()
}

func (c *SessionController) SwitchToAuto() error {
	c.focus = FocusAutomatic
	c.applyExposure()

	return c.resubmit()
}

func (c *SessionController) SwitchToManual() error {
	c.focus = FocusManual
	c.applyExposure()

	return c.resubmit()
}

// SetExposure stores d and switches to manual focus mode.
func (c *SessionController) SetExposure(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid exposure time %s", d)
	}
	c.exposure = d

	return c.SwitchToManual()
}

// SetIso stores iso and switches to manual focus mode.
func (c *SessionController) SetIso(iso int) error {
	if iso <= 0 {
		return fmt.Errorf("invalid iso %d", iso)
	}
	c.iso = iso

	return c.SwitchToManual()
}

// TakePicture starts a still sequence. Automatic mode locks focus first;
// manual mode fires the still right away.
func (c *SessionController) TakePicture() error {
	if c.session == nil {
		return ErrNoSession
	}
	if c.machine.State() != StatePreview {
		return ErrCaptureInProgress
	}
	if c.focus == FocusManual {
		c.captureStill()
		return nil
	}

	c.preview.AFTrigger = AFTriggerStart
	c.machine.set(StateWaitingFocusLock)
	if err := c.submitRepeating(); err != nil {
		c.abort("lock focus", err)
	}

	return nil
}

// HandleResult advances the state machine with a preview-stream result.
func (c *SessionController) HandleResult(r CaptureResult) {
	if c.session == nil || r.Tag == TagStill {
		return
	}
	switch c.machine.step(r) {
	case ActionRunPrecapture:
		c.runPrecapture()
	case ActionCaptureStill:
		c.captureStill()
	}
}

func (c *SessionController) StillCompleted() {
	if c.session == nil {
		return
	}
	logger.Info("still capture completed")
	metrics.StillCaptures.WithLabelValues("ok").Inc()
	c.unlock()
}

func (c *SessionController) StillFailed(reason string) {
	if c.session == nil {
		return
	}
	logger.Warnf("still capture failed: %s", reason)
	metrics.StillCaptures.WithLabelValues("failed").Inc()
	c.listener.OnNotice(Notice{
		Severity: SeverityDegraded,
		Message:  "still capture failed: " + reason,
	})
	c.unlock()
}

// Snapshot returns the controller settings for status reporting.
func (c *SessionController) Snapshot() (CameraMode, FocusMode, time.Duration, int) {
	return c.mode, c.focus, c.exposure, c.iso
}

// Preview returns a copy of the current repeating request.
func (c *SessionController) Preview() Request {
	return c.preview.Clone()
}

func (c *SessionController) runPrecapture() {
	req := c.preview.Clone()
	req.Tag = TagPrecapture
	req.AFTrigger = AFTriggerIdle
	req.PrecaptureTrigger = PrecaptureStart
	if err := c.session.Capture(req); err != nil {
		c.abort("run precapture", err)
	}
}

func (c *SessionController) captureStill() {
	c.machine.set(StatePictureTaken)

	req := Request{
		Template:        TemplateStill,
		Tag:             TagStill,
		Targets:         []Stream{StreamStill},
		JPEGOrientation: JPEGOrientation(c.rotation()),
	}
	if c.focus == FocusAutomatic {
		req.AFMode = AFModeContinuousPicture
		req.AEMode = AEModeOnAutoFlash
	} else {
		req.AFMode = c.preview.AFMode
		req.AEMode = c.preview.AEMode
		req.ExposureTime = c.exposure
		req.Sensitivity = c.iso
	}

	if err := c.session.StopRepeating(); err != nil {
		c.abort("stop repeating", err)
		return
	}
	if err := c.session.Capture(req); err != nil {
		c.abort("capture still", err)
	}
}

// unlock cancels the AF trigger and restores the repeating preview.
func (c *SessionController) unlock() {
	c.preview.AFTrigger = AFTriggerCancel
	c.applyExposure()

	req := c.preview.Clone()
	req.Tag = TagUnlock
	if err := c.session.Capture(req); err != nil {
		logger.Warnf("cancel focus trigger: %s", err)
	}

	c.machine.set(StatePreview)
	c.preview.AFTrigger = AFTriggerIdle
	if err := c.submitRepeating(); err != nil {
		logger.Errorf("restore preview: %s", err)
		c.listener.OnNotice(Notice{
			Severity: SeverityDegraded,
			Message:  "failed to restore preview",
			Err:      err,
		})
	}
}

func (c *SessionController) abort(step string, err error) {
	logger.Errorf("%s: %s", step, err)
	metrics.StillCaptures.WithLabelValues("failed").Inc()
	c.listener.OnNotice(Notice{
		Severity: SeverityDegraded,
		Message:  "still capture aborted at " + step,
		Err:      err,
	})
	c.unlock()
}

func (c *SessionController) applyMode() {
	if c.mode == ModeScan {
		c.preview.AddTarget(StreamDecode)
	} else {
		c.preview.RemoveTarget(StreamDecode)
	}
}

// applyExposure sets the AE controls for the current focus mode. Manual mode
// turns AE off and pins exposure and ISO; automatic mode uses auto-flash in
// photo mode and plain AE in scan mode so decode frames are not flashed.
func (c *SessionController) applyExposure() {
	if c.focus == FocusManual {
		c.preview.AEMode = AEModeOff
		c.preview.ExposureTime = c.exposure
		c.preview.Sensitivity = c.iso
		return
	}
	c.preview.ExposureTime = 0
	c.preview.Sensitivity = 0
	if c.mode == ModeScan {
		c.preview.AEMode = AEModeOn
	} else {
		c.preview.AEMode = AEModeOnAutoFlash
	}
}

func (c *SessionController) resubmit() error {
	if c.session == nil {
		return ErrNoSession
	}
	// The repeating stream is stopped while the still is in flight; unlock
	// resubmits with the new settings.
	if c.machine.State() == StatePictureTaken {
		return nil
	}
	return c.submitRepeating()
}

func (c *SessionController) submitRepeating() error {
	req := c.preview.Clone()
	if err := c.session.SetRepeatingRequest(req); err != nil {
		return fmt.Errorf("set repeating request: %w", err)
	}
	return nil
}
