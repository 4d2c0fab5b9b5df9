package utils

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
)

func TestYUYVToGray(t *testing.T) {
	// 2x2 image, Y0 U Y1 V per pair of pixels
	in := []byte{
		10, 128, 20, 128,
		30, 128, 40, 128,
	}
	out := make([]byte, 4)
	YUYVToGray(in, out, 2, 2)

	want := []byte{10, 20, 30, 40}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestYUYVToGrayPaddedStride(t *testing.T) {
	in := []byte{
		1, 0, 2, 0, 0xff, 0xff,
		3, 0, 4, 0, 0xff, 0xff,
	}
	out := make([]byte, 4)
	YUYVToGray(in, out, 2, 2)

	want := []byte{1, 2, 3, 4}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := EncodeJPEG(img, &buf, 90); err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 16 || cfg.Height != 16 {
		t.Fatalf("unexpected size %dx%d", cfg.Width, cfg.Height)
	}
}
