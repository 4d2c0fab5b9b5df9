// Package metrics exposes the scan and capture pipeline counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qrshutter"

var (
	FramesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "frames_published_total",
		Help:      "Preview frames handed to the frame channel.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "frames_dropped_total",
		Help:      "Pending preview frames replaced before the decoder took them.",
	})
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "frames_decoded_total",
		Help:      "Preview frames run through the decoder.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "decode_errors_total",
		Help:      "Decoder failures on a single frame.",
	})
	SymbolsFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "symbols_found_total",
		Help:      "Symbols reported to the listener.",
	})
	StillCaptures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "stills_total",
		Help:      "Still capture sequences by result.",
	}, []string{"result"})
	CaptureState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "state",
		Help:      "Current capture state (0 preview .. 4 picture taken).",
	})
)
