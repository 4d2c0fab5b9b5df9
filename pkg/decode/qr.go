// Package decode finds QR codes in preview frames.
package decode

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QR decodes at most one QR code per image.
type QR struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewQR(tryHarder bool) *QR {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &QR{hints: hints}
}

// Decode returns the text of the QR code in img, or nothing when img holds
// no readable code.
func (q *QR) Decode(img *image.Gray) ([]string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to get NewBinaryBitmapFromImage: %w", err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, q.hints)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode the QR-code contents: %w", err)
	}

	return []string{result.GetText()}, nil
}
