package v4l

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("v4l")
}

// Camera class and JPEG class control IDs.
const (
	CtrlExposureAuto     v4l2.CtrlID = 10094849
	CtrlExposureAbsolute v4l2.CtrlID = 10094850 // 100µs units
	CtrlFocusAuto        v4l2.CtrlID = 10094860
	CtrlWhiteBalanceAuto v4l2.CtrlID = 10094868
	CtrlIsoSensitivity   v4l2.CtrlID = 10094871
	CtrlIsoAuto          v4l2.CtrlID = 10094872
	CtrlAFStart          v4l2.CtrlID = 10094876
	CtrlAFStop           v4l2.CtrlID = 10094877
	CtrlAFStatus         v4l2.CtrlID = 10094878
	CtrlJPEGQuality      v4l2.CtrlID = 10291459
)

const (
	exposureManual           v4l2.CtrlValue = 1
	exposureAperturePriority v4l2.CtrlValue = 3

	afStatusBusy    = 1 << 0
	afStatusReached = 1 << 1
	afStatusFailed  = 1 << 2

	exposureUnit = 100 * time.Microsecond
)

var knownCtrlIDs = []v4l2.CtrlID{
	CtrlExposureAuto,
	CtrlExposureAbsolute,
	CtrlFocusAuto,
	CtrlWhiteBalanceAuto,
	CtrlIsoSensitivity,
	CtrlIsoAuto,
	CtrlAFStatus,
	CtrlJPEGQuality,
}

type Settings map[v4l2.CtrlID]v4l2.CtrlValue

var initSettings = Settings{
	CtrlWhiteBalanceAuto: 1,
	CtrlJPEGQuality:      90,
}

// orderedCtrls puts auto switches ahead of the values they unlock; drivers
// reject an absolute exposure while auto exposure is on.
func orderedCtrls(settings Settings) []v4l2.CtrlID {
	rank := func(id v4l2.CtrlID) int {
		switch id {
		case CtrlExposureAuto, CtrlIsoAuto, CtrlFocusAuto:
			return 0
		}
		return 1
	}
	ids := make([]v4l2.CtrlID, 0, len(settings))
	for id := range settings {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b v4l2.CtrlID) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	return ids
}

// isoScale maps ISO values onto the ISO control, which drivers expose either
// as a plain integer or as an integer menu.
type isoScale struct {
	menu []int64
}

func newIsoScale(ctrl v4l2.Control) isoScale {
	if ctrl.Type != v4l2.CtrlTypeIntegerMenu {
		return isoScale{}
	}
	items, err := ctrl.GetMenuItems()
	if err != nil {
		logger.Warnf("iso menu: %s", err)
		return isoScale{}
	}
	menu := make([]int64, 0, len(items))
	for _, m := range items {
		menu = append(menu, integerMenuValue(m))
	}

	return isoScale{menu: menu}
}

func (s isoScale) Range(ctrl v4l2.Control) camera.IntRange {
	if len(s.menu) == 0 {
		return camera.IntRange{Min: int(ctrl.Minimum), Max: int(ctrl.Maximum)}
	}
	r := camera.IntRange{Min: int(slices.Min(s.menu)), Max: int(slices.Max(s.menu))}
	if r.Min == 0 {
		// index 0 is "auto" on most sensors
		r.Min = 1
	}

	return r
}

// Value returns the control value for iso, picking the closest menu entry.
func (s isoScale) Value(iso int) v4l2.CtrlValue {
	if len(s.menu) == 0 {
		return v4l2.CtrlValue(iso)
	}
	best := 0
	for i, v := range s.menu {
		if abs(v-int64(iso)) < abs(s.menu[best]-int64(iso)) {
			best = i
		}
	}

	return v4l2.CtrlValue(best)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func integerMenuValue(m v4l2.ControlMenuItem) int64 {
	b := []byte(m.Name)
	for len(b) < 8 {
		b = append(b, 0)
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// exposureRange converts the absolute exposure control range to durations.
func exposureRange(ctrl v4l2.Control) camera.DurationRange {
	return camera.DurationRange{
		Min: time.Duration(max(ctrl.Minimum, 1)) * exposureUnit,
		Max: time.Duration(ctrl.Maximum) * exposureUnit,
	}
}

// requestSettings translates the persistent controls of a request.
func requestSettings(req camera.Request, iso isoScale) Settings {
	s := make(Settings)
	if req.AFMode == camera.AFModeContinuousPicture {
		s[CtrlFocusAuto] = 1
	} else {
		s[CtrlFocusAuto] = 0
	}

	if req.AEMode == camera.AEModeOff {
		s[CtrlExposureAuto] = exposureManual
		s[CtrlIsoAuto] = 0
		if req.ExposureTime > 0 {
			s[CtrlExposureAbsolute] = v4l2.CtrlValue(max(req.ExposureTime/exposureUnit, 1))
		}
		if req.Sensitivity > 0 {
			s[CtrlIsoSensitivity] = iso.Value(req.Sensitivity)
		}
	} else {
		s[CtrlExposureAuto] = exposureAperturePriority
		s[CtrlIsoAuto] = 1
	}

	return s
}

// afState maps the V4L2 auto focus status bits.
func afState(status v4l2.CtrlValue) camera.AFState {
	switch {
	case status&afStatusBusy != 0:
		return camera.AFStateActiveScan
	case status&afStatusReached != 0:
		return camera.AFStateFocusedLocked
	case status&afStatusFailed != 0:
		return camera.AFStateNotFocusedLocked
	default:
		return camera.AFStateInactive
	}
}

func CtrlToString(ctrl v4l2.Control) string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]\n",
		ctrl.ID, ctrl.Name, ctrl.Minimum, ctrl.Maximum, ctrl.Step, ctrl.Default, ctrl.Value)
}
