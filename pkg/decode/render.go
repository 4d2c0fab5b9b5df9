package decode

import (
	"fmt"
	"image"
	"image/draw"

	qrgen "github.com/skip2/go-qrcode"
)

// Render draws text as a QR code centered on a white width x height canvas.
func Render(text string, width, height int) (*image.Gray, error) {
	qr, err := qrgen.New(text, qrgen.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	side := min(width, height) * 3 / 4
	code := qr.Image(side)

	canvas := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	b := code.Bounds()
	at := image.Pt((width-b.Dx())/2, (height-b.Dy())/2)
	draw.Draw(canvas, b.Sub(b.Min).Add(at), code, b.Min, draw.Src)

	return canvas, nil
}
