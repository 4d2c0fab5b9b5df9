// Package ov holds the request bodies accepted by the HTTP API.
package ov

import "qr-shutter-pi/pkg/camera"

type Mode struct {
	Mode string `json:"mode" binding:"required,oneof=photo scan"`
}

type Focus struct {
	Focus string `json:"focus" binding:"required,oneof=auto manual"`
}

// Exposure is a shutter speed of 1/Divisor seconds.
type Exposure struct {
	Divisor int `json:"divisor" binding:"required,gt=0"`
}

type Iso struct {
	Iso int `json:"iso" binding:"required,gt=0"`
}

// Interval is the timed shutter period in milliseconds; 0 stops it.
type Interval struct {
	IntervalMs int64 `json:"intervalMs" binding:"gte=0"`
}

// Found is the last decoded symbol.
type Found struct {
	Text string `json:"text"`
	At   string `json:"at,omitempty"`
}

type Ranges struct {
	Iso      camera.SupportedRange `json:"iso"`
	Exposure camera.SupportedRange `json:"exposure"`
}

type Notice struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}
