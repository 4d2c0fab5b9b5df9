package utils

import (
	"image"
	"image/jpeg"
	"io"
)

// YUYVToGray copies the luma samples of a packed YUYV (4:2:2) buffer into out,
// which must hold at least width*height bytes.
func YUYVToGray(in, out []byte, width, height int) {
	inStride := len(in) / height

	for i := 0; i < height; i++ {
		oIndex := i * width
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]

			oIndex++
			iIndex += 2
		}
	}
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
