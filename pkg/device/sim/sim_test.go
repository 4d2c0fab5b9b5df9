package sim

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/decode"
)

type listener struct {
	mu    sync.Mutex
	found []string
}

func (l *listener) OnFound(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, text)
}

func (l *listener) OnExposureRangeLoaded([]int, int) {}
func (l *listener) OnIsoRangeLoaded([]int, int)      {}
func (l *listener) OnNotice(n camera.Notice)         {}

func (l *listener) first() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.found) == 0 {
		return ""
	}
	return l.found[0]
}

type stills struct {
	mu   sync.Mutex
	data [][]byte
}

func (s *stills) SaveStill(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data)
	return nil
}

func (s *stills) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func start(t *testing.T, cfg Config) (*camera.Manager, *listener, *stills) {
	t.Helper()
	l, s := &listener{}, &stills{}
	m := camera.NewManager(camera.Options{
		Device:   New(cfg),
		Decoder:  decode.NewQR(false),
		Listener: l,
		Stills:   s,
		Viewport: camera.Size{Width: 640, Height: 480},
	})
	if err := m.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "camera ready", func() bool { return m.Lifecycle() == camera.LifecycleReady })

	return m, l, s
}

func TestScan(t *testing.T) {
	m, l, _ := start(t, Config{Payload: "shelf%2012", FPS: 50})
	defer m.Pause()

	if err := m.ChangeMode(camera.ModeScan); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "code found", func() bool { return l.first() != "" })
	if got := l.first(); got != "shelf 12" {
		t.Fatalf("found %q", got)
	}
}

func TestAutoCaptureWithPrecapture(t *testing.T) {
	m, _, s := start(t, Config{FPS: 100, FocusFrames: 3, PrecaptureFrames: 2, FlashRequired: true})
	defer m.Pause()

	if err := m.TakePicture(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "still saved", func() bool { return s.count() == 1 })

	s.mu.Lock()
	data := s.data[0]
	s.mu.Unlock()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1600 || b.Dy() != 1200 {
		t.Fatalf("still is %dx%d", b.Dx(), b.Dy())
	}

	waitFor(t, "preview restored", func() bool {
		st, err := m.Status()
		return err == nil && st.State == camera.StatePreview.String()
	})
	if err := m.TakePicture(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second still saved", func() bool { return s.count() == 2 })
}

func TestManualCapture(t *testing.T) {
	m, _, s := start(t, Config{FPS: 100})
	defer m.Pause()

	if err := m.SetIso(200); err != nil {
		t.Fatal(err)
	}
	if err := m.TakePicture(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "still saved", func() bool { return s.count() == 1 })
}
