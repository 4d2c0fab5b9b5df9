package camera

import (
	"slices"
	"time"
)

const (
	DefaultIso             = 100
	DefaultExposureDivisor = 125
	DefaultManualExposure  = time.Second / DefaultExposureDivisor
)

// Well-known ISO values offered for manual control.
var IsoWhitelist = []int{40, 50, 80, 100, 200, 300, 400, 600, 800, 1000, 1600, 2000, 3200, 4000, 6400, 8000, 10000}

// Well-known shutter speeds as divisors of one second.
var ExposureDivisorWhitelist = []int{2, 4, 6, 8, 15, 30, 60, 100, 125, 250, 500, 750, 1000, 1500, 2000, 3000, 4000, 5000, 6000, 8000, 10000, 20000, 30000, 75000}

// ExposureFromDivisor converts 1/divisor seconds into an exposure time.
func ExposureFromDivisor(divisor int) time.Duration {
	if divisor <= 0 {
		return 0
	}
	return time.Second / time.Duration(divisor)
}

// SupportedRange is a whitelist intersected with a device range, in
// whitelist order.
type SupportedRange struct {
	Values       []int `json:"values"`
	DefaultIndex int   `json:"defaultIndex"`
}

// SupportedIso returns the whitelisted ISO values inside r. DefaultIndex
// points at DefaultIso or is -1.
func SupportedIso(r IntRange) SupportedRange {
	var values []int
	for _, iso := range IsoWhitelist {
		if r.Contains(iso) {
			values = append(values, iso)
		}
	}
	return SupportedRange{
		Values:       values,
		DefaultIndex: slices.Index(values, DefaultIso),
	}
}

// SupportedExposures returns the whitelisted divisors whose exposure time is
// inside r. DefaultIndex points at DefaultExposureDivisor or is -1.
func SupportedExposures(r DurationRange) SupportedRange {
	var values []int
	for _, div := range ExposureDivisorWhitelist {
		if r.Contains(ExposureFromDivisor(div)) {
			values = append(values, div)
		}
	}
	return SupportedRange{
		Values:       values,
		DefaultIndex: slices.Index(values, DefaultExposureDivisor),
	}
}
