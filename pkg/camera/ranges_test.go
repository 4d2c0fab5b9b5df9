package camera

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestSupportedIso(t *testing.T) {
	r := SupportedIso(IntRange{Min: 50, Max: 1000})
	want := []int{50, 80, 100, 200, 300, 400, 600, 800, 1000}
	if !slices.Equal(r.Values, want) || r.DefaultIndex != 2 {
		t.Fatalf("got %v idx %d", r.Values, r.DefaultIndex)
	}

	r = SupportedIso(IntRange{Min: 200, Max: 400})
	if !slices.Equal(r.Values, []int{200, 300, 400}) || r.DefaultIndex != -1 {
		t.Fatalf("got %v idx %d", r.Values, r.DefaultIndex)
	}
}

func TestSupportedExposures(t *testing.T) {
	r := SupportedExposures(DurationRange{Min: time.Second / 1000, Max: time.Second / 30})
	want := []int{30, 60, 100, 125, 250, 500, 750, 1000}
	if !slices.Equal(r.Values, want) || r.DefaultIndex != 3 {
		t.Fatalf("got %v idx %d", r.Values, r.DefaultIndex)
	}

	if ExposureFromDivisor(125) != 8*time.Millisecond || ExposureFromDivisor(0) != 0 {
		t.Fatal("bad divisor conversion")
	}
}

func TestChooseOptimalSize(t *testing.T) {
	choices := []Size{{1920, 1080}, {1440, 1080}, {1280, 960}, {1024, 768}, {640, 480}}

	got, ok, err := ChooseOptimalSize(choices, 1000, 700, Size{4032, 3024})
	checkErr(t, err)
	if !ok || got != (Size{1024, 768}) {
		t.Fatalf("got %s ok=%v", got, ok)
	}

	got, ok, err = ChooseOptimalSize(choices, 1080, 1920, Size{4032, 3024})
	checkErr(t, err)
	if ok || got != choices[0] {
		t.Fatalf("got %s ok=%v, want fallback", got, ok)
	}

	if _, _, err := ChooseOptimalSize(nil, 1, 1, Size{4, 3}); !errors.Is(err, ErrNoSizes) {
		t.Fatalf("got %v", err)
	}
}

func TestLargestSize(t *testing.T) {
	got, err := LargestSize([]Size{{640, 480}, {4032, 3024}, {1920, 1080}})
	checkErr(t, err)
	if got != (Size{4032, 3024}) {
		t.Fatalf("got %s", got)
	}
	if _, err := LargestSize(nil); !errors.Is(err, ErrNoSizes) {
		t.Fatalf("got %v", err)
	}
}

func TestJPEGOrientation(t *testing.T) {
	want := map[Rotation]int{Rotation0: 90, Rotation90: 0, Rotation180: 270, Rotation270: 180}
	for r, o := range want {
		if got := JPEGOrientation(r); got != o {
			t.Errorf("rotation %d: got %d, want %d", r, got, o)
		}
	}
}

func TestOpenLock(t *testing.T) {
	l := newOpenLock()
	release, err := l.acquire(context.Background(), time.Second)
	checkErr(t, err)
	if !l.held() {
		t.Fatal("lock not held")
	}

	if _, err := l.acquire(context.Background(), 20*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.acquire(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want canceled", err)
	}

	release()
	release()
	if l.held() {
		t.Fatal("lock still held")
	}
	again, err := l.acquire(context.Background(), 0)
	checkErr(t, err)
	again()
}
