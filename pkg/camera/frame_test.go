package camera

import (
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"
)

func countingFrame(n *atomic.Int32) *Frame {
	return NewFrame(make([]byte, 4), 2, 2, 2, func() { n.Add(1) })
}

func TestFrameReleaseOnce(t *testing.T) {
	var n atomic.Int32
	f := countingFrame(&n)
	f.Release()
	f.Release()
	if n.Load() != 1 {
		t.Fatalf("released %d times", n.Load())
	}
}

func TestFrameChannelDropsOldest(t *testing.T) {
	var first, second atomic.Int32
	c := NewFrameChannel()
	a, b := countingFrame(&first), countingFrame(&second)

	if !c.Publish(a) || !c.Publish(b) {
		t.Fatal("publish on open channel failed")
	}
	if first.Load() != 1 {
		t.Fatal("replaced frame not released")
	}

	f, ok := c.Next()
	if !ok || f != b {
		t.Fatal("expected the newest frame")
	}
	f.Release()
	if second.Load() != 1 {
		t.Fatal("frame not released")
	}
}

func TestFrameChannelClose(t *testing.T) {
	var pending, late atomic.Int32
	c := NewFrameChannel()
	c.Publish(countingFrame(&pending))

	c.Close()
	c.Close()
	if pending.Load() != 1 {
		t.Fatal("pending frame not released on close")
	}
	if c.Publish(countingFrame(&late)) {
		t.Fatal("publish after close succeeded")
	}
	if late.Load() != 1 {
		t.Fatal("frame published after close not released")
	}
	if _, ok := c.Next(); ok {
		t.Fatal("Next returned a frame after close")
	}
}

type stubDecoder struct {
	symbols []string
	err     error
	panics  bool
	calls   atomic.Int32
}

func (d *stubDecoder) Decode(img *image.Gray) ([]string, error) {
	d.calls.Add(1)
	if d.panics {
		panic("bad frame")
	}
	return d.symbols, d.err
}

func runWorker(t *testing.T, d Decoder, frames ...*Frame) []string {
	t.Helper()
	l := &recordListener{}
	c := NewFrameChannel()
	w := NewDecodeWorker(c, d, l.OnFound)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	for _, f := range frames {
		c.Publish(f)
		waitFor(t, "frame consumed", func() bool { return len(c.slot) == 0 })
	}
	time.Sleep(20 * time.Millisecond)
	c.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("decode worker did not stop")
	}

	return l.Found()
}

func TestDecodeWorkerFirstSymbol(t *testing.T) {
	var n atomic.Int32
	d := &stubDecoder{symbols: []string{"https%3A%2F%2Fexample.com%2Fa%20b", "second"}}
	found := runWorker(t, d, countingFrame(&n))

	if len(found) != 1 || found[0] != "https://example.com/a b" {
		t.Fatalf("found %q", found)
	}
	if n.Load() != 1 {
		t.Fatal("frame not released")
	}
}

func TestDecodeWorkerKeepsRawOnBadEscape(t *testing.T) {
	var n atomic.Int32
	found := runWorker(t, &stubDecoder{symbols: []string{"100%"}}, countingFrame(&n))
	if len(found) != 1 || found[0] != "100%" {
		t.Fatalf("found %q", found)
	}
}

func TestUnescape(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a%20b", "a b"},
		{"100%25 ok %zz", "100% ok %zz"},
		{"%4", "%4"},
		{"tail%", "tail%"},
		{"%E4%BD%A0%e5%a5%bd", "你好"},
		{"a+b", "a+b"},
	}
	for _, c := range cases {
		if got := unescape(c.in); got != c.want {
			t.Errorf("unescape(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecodeWorkerSurvivesFailures(t *testing.T) {
	var a, b atomic.Int32
	found := runWorker(t, &stubDecoder{err: errors.New("checksum")}, countingFrame(&a))
	if len(found) != 0 || a.Load() != 1 {
		t.Fatalf("found %q, released %d", found, a.Load())
	}

	d := &stubDecoder{panics: true}
	found = runWorker(t, d, countingFrame(&b), countingFrame(&b))
	if len(found) != 0 || b.Load() != 2 || d.calls.Load() != 2 {
		t.Fatalf("found %q, released %d, calls %d", found, b.Load(), d.calls.Load())
	}
}
