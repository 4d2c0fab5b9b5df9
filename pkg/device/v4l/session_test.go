package v4l

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"

	"qr-shutter-pi/pkg/camera"
)

type fakeStream struct {
	mu       sync.Mutex
	set      map[v4l2.CtrlID][]v4l2.CtrlValue
	rejectAF bool
	stopped  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{set: make(map[v4l2.CtrlID][]v4l2.CtrlValue)}
}

func (f *fakeStream) Start(v4l2.FourCCType, int, int) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeStream) Stop() error {
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeStream) Update(Settings) {}

func (f *fakeStream) SetControlValue(id v4l2.CtrlID, v v4l2.CtrlValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[id] = append(f.set[id], v)
	if f.rejectAF && (id == CtrlAFStart || id == CtrlAFStop) {
		return errors.New("invalid argument")
	}
	return nil
}

func (f *fakeStream) Control(id v4l2.CtrlID) (v4l2.Control, error) {
	return v4l2.Control{ID: id}, nil
}

func (f *fakeStream) writes(id v4l2.CtrlID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set[id])
}

func (f *fakeStream) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type nopSink struct{}

func (nopSink) Post(camera.Event) {}

var (
	testPreview = camera.Size{Width: 640, Height: 480}
	testStill   = camera.Size{Width: 1280, Height: 960}
)

func TestAFTriggerReachesDevice(t *testing.T) {
	fs := newFakeStream()
	ctrls := map[v4l2.CtrlID]v4l2.Control{CtrlAFStatus: {ID: CtrlAFStatus}}
	s := newSession(fs, nopSink{}, ctrls, testPreview, testStill)

	req := camera.Request{Tag: camera.TagPreview, AFMode: camera.AFModeContinuousPicture, AFTrigger: camera.AFTriggerStart}
	if err := s.SetRepeatingRequest(req); err != nil {
		t.Fatal(err)
	}
	// the trigger rides on every repeat, the device sees it once
	if err := s.SetRepeatingRequest(req); err != nil {
		t.Fatal(err)
	}
	if n := fs.writes(CtrlAFStart); n != 1 {
		t.Fatalf("af start written %d times", n)
	}

	cancel := camera.Request{Tag: camera.TagUnlock, AFTrigger: camera.AFTriggerCancel}
	if err := s.Capture(cancel); err != nil {
		t.Fatal(err)
	}
	if n := fs.writes(CtrlAFStop); n != 1 {
		t.Fatalf("af stop written %d times", n)
	}
}

func TestAFTriggerFixedFocus(t *testing.T) {
	fs := newFakeStream()
	fs.rejectAF = true
	s := newSession(fs, nopSink{}, nil, testPreview, testStill)

	req := camera.Request{Tag: camera.TagPreview, AFTrigger: camera.AFTriggerStart}
	if err := s.SetRepeatingRequest(req); err != nil {
		t.Fatalf("rejected trigger failed the request: %v", err)
	}
	if fs.writes(CtrlAFStart) != 1 {
		t.Fatal("trigger not attempted")
	}

	s.mu.Lock()
	r := s.result(req)
	s.mu.Unlock()
	if r.AFState != camera.AFStateFocusedLocked {
		t.Fatalf("fixed focus reported %v", r.AFState)
	}
}

func TestCameraCloseWaitsForStream(t *testing.T) {
	fs := newFakeStream()
	c := &Camera{stream: fs, sink: nopSink{}}
	s := newSession(fs, nopSink{}, nil, testPreview, testStill)
	c.session = s
	go s.run(make(chan []byte))

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !fs.isStopped() {
		t.Fatal("Close returned while the stream was still running")
	}
	if err := s.SetRepeatingRequest(camera.Request{}); !errors.Is(err, errSessionClosed) {
		t.Fatalf("got %v, want errSessionClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
