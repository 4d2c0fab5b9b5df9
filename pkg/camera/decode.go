package camera

import (
	"image"
	"strings"

	"qr-shutter-pi/pkg/metrics"
)

// Decoder finds barcode symbols in a grayscale image. A frame without
// symbols yields an empty slice and a nil error.
type Decoder interface {
	Decode(img *image.Gray) ([]string, error)
}

// DecodeWorker drains a FrameChannel and reports the first symbol of each
// frame.
type DecodeWorker struct {
	frames  *FrameChannel
	decoder Decoder
	onFound func(text string)
}

func NewDecodeWorker(frames *FrameChannel, decoder Decoder, onFound func(text string)) *DecodeWorker {
	return &DecodeWorker{
		frames:  frames,
		decoder: decoder,
		onFound: onFound,
	}
}

// Run returns once the frame channel is closed.
func (w *DecodeWorker) Run() {
	for {
		f, ok := w.frames.Next()
		if !ok {
			logger.Debug("decode worker: frame channel closed")
			return
		}
		w.process(f)
	}
}

func (w *DecodeWorker) process(f *Frame) {
	defer f.Release()
	defer func() {
		if r := recover(); r != nil {
			metrics.DecodeErrors.Inc()
			logger.Errorf("decode worker: decoder panic: %v", r)
		}
	}()

	metrics.FramesDecoded.Inc()
	symbols, err := w.decoder.Decode(f.Gray())
	if err != nil {
		metrics.DecodeErrors.Inc()
		logger.Warnf("decode worker: decode %dx%d frame: %s", f.Width, f.Height, err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	text := unescape(symbols[0])
	logger.Debugf("decode worker: found %q", text)
	metrics.SymbolsFound.Inc()
	if w.onFound != nil {
		w.onFound(text)
	}
}

// unescape decodes every valid %XX sequence and keeps malformed ones as
// they are.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
