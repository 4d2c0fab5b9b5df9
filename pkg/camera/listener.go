package camera

import (
	"fmt"

	"go.uber.org/zap"

	"qr-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

type Severity int

const (
	SeverityDegraded Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "degraded"
}

// Notice is a user-facing condition raised by the camera. Fatal notices mean
// the camera is unusable until the host reopens it.
type Notice struct {
	Severity Severity
	Message  string
	Err      error
}

func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %s: %s", n.Severity, n.Message, n.Err)
	}
	return fmt.Sprintf("%s: %s", n.Severity, n.Message)
}

// Listener receives camera callbacks. Methods are called from camera
// goroutines and must not block.
type Listener interface {
	OnFound(text string)
	OnExposureRangeLoaded(divisors []int, defaultIndex int)
	OnIsoRangeLoaded(values []int, defaultIndex int)
	OnNotice(n Notice)
}

// StillSink stores encoded still captures.
type StillSink interface {
	SaveStill(name string, data []byte) error
}

// StillLayout names stills as yyyyMMdd_HHmmss.jpg.
const StillLayout = "20060102_150405"

type nopListener struct{}

func (nopListener) OnFound(string)                   {}
func (nopListener) OnExposureRangeLoaded([]int, int) {}
func (nopListener) OnIsoRangeLoaded([]int, int)      {}
func (nopListener) OnNotice(Notice)                  {}
