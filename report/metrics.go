package report

import (
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// Metrics counts detections and misses for one landing session. Counters only grow.
type Metrics struct {
	clock        clock.Clock
	sessionStart time.Time

	detections atomic.Uint64
	misses     atomic.Uint64
	blended    atomic.Uint64
	switches   atomic.Uint64

	registry *prometheus.Registry
}

// NewMetrics starts a session now according to clk.
func NewMetrics(clk clock.Clock) *Metrics {
	m := &Metrics{
		clock:        clk,
		sessionStart: clk.Now(),
		registry:     prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_detections_total",
			Help: "Frames that produced a fresh landing target",
		},
		func() float64 { return float64(m.detections.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_misses_total",
			Help: "Frames without a fresh landing target",
		},
		func() float64 { return float64(m.misses.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_blended_frames_total",
			Help: "Frames reported while blending a marker handoff",
		},
		func() float64 { return float64(m.blended.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_marker_switches_total",
			Help: "Active marker changes",
		},
		func() float64 { return float64(m.switches.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_session_seconds",
			Help: "Time since the landing session started",
		},
		func() float64 { return m.clock.Since(m.sessionStart).Seconds() },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "precisionland_detection_rate_percent",
			Help: "Share of frames with a fresh landing target",
		},
		func() float64 { return m.Summary().DetectionRate },
	))
}

// RecordDetection counts a frame with a fresh target.
func (m *Metrics) RecordDetection() { m.detections.Inc() }

// RecordMiss counts a frame without a fresh target.
func (m *Metrics) RecordMiss() { m.misses.Inc() }

// RecordBlend counts a frame reported mid-handoff.
func (m *Metrics) RecordBlend() { m.blended.Inc() }

// RecordSwitch counts a change of active marker.
func (m *Metrics) RecordSwitch() { m.switches.Inc() }

// DetectionCount returns the number of frames with a fresh target.
func (m *Metrics) DetectionCount() uint64 { return m.detections.Load() }

// MissCount returns the number of frames without a fresh target.
func (m *Metrics) MissCount() uint64 { return m.misses.Load() }

// SessionStart returns when the session began.
func (m *Metrics) SessionStart() time.Time { return m.sessionStart }

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Summary is the end-of-session report.
type Summary struct {
	TotalTime           time.Duration
	Detections          uint64
	Misses              uint64
	DetectionRate       float64 // percent of frames
	DetectionsPerSecond float64
}

// Summary computes the session statistics so far.
func (m *Metrics) Summary() Summary {
	s := Summary{
		TotalTime:  m.clock.Since(m.sessionStart),
		Detections: m.detections.Load(),
		Misses:     m.misses.Load(),
	}
	if frames := s.Detections + s.Misses; frames > 0 {
		s.DetectionRate = float64(s.Detections) / float64(frames) * 100
	}
	if secs := s.TotalTime.Seconds(); secs > 0 {
		s.DetectionsPerSecond = float64(s.Detections) / secs
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("total time %s, %d detections, %d misses, detection rate %.1f%%, %.2f detections/s",
		s.TotalTime.Round(time.Millisecond), s.Detections, s.Misses, s.DetectionRate, s.DetectionsPerSecond)
}
