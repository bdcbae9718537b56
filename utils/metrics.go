package utils

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	DecodeLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "candecoder",
			Subsystem: "decode",
			Name:      "lines_total",
			Help:      "Log lines read by decoding sessions.",
		},
	)
	DecodeFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "candecoder",
			Subsystem: "decode",
			Name:      "frames_total",
			Help:      "Frames decoded and emitted.",
		},
	)
	DecodeSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candecoder",
			Subsystem: "decode",
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because of per-frame errors.",
		},
		[]string{"reason"},
	)
	DecodeSignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "candecoder",
			Subsystem: "decode",
			Name:      "signals_total",
			Help:      "Physical signal values produced.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(DecodeLines, DecodeFrames, DecodeSkipped, DecodeSignals)
	})
}

func RecordDecodedFrame(signals int) {
	DecodeFrames.Inc()
	DecodeSignals.Add(float64(signals))
}

func RecordSkippedFrame(reason string) {
	DecodeSkipped.WithLabelValues(reason).Inc()
}
