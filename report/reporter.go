// Package report turns smoothed estimates into landing-target messages and keeps the session
// counters.
package report

import (
	"fmt"
	"math"
	"time"

	"go.viam.com/precisionland/fusion"
	"go.viam.com/precisionland/logging"
)

// LandingTarget holds the logical fields of a landing-target message. Angles are radians in the
// camera frame, x right and y down; distances are meters.
type LandingTarget struct {
	// TimeUsec is the capture time of the fix in microseconds since the session started. A held
	// target keeps the time of the fix it repeats.
	TimeUsec   uint64
	CapturedAt time.Time
	MarkerID   int

	AngleX   float64
	AngleY   float64
	Distance float64
	// SizeX and SizeY are the angular size of the marker.
	SizeX float64
	SizeY float64

	// Held is set when the target repeats the last fix because this frame had none.
	Held bool
}

func (t LandingTarget) String() string {
	return fmt.Sprintf("target marker=%d t=%dus angle=(%.4f, %.4f) dist=%.3fm size=%.4f held=%t",
		t.MarkerID, t.TimeUsec, t.AngleX, t.AngleY, t.Distance, t.SizeX, t.Held)
}

// Reporter maps estimates to targets, one per frame.
type Reporter struct {
	metrics *Metrics
	logger  logging.Logger
}

// NewReporter returns a reporter recording into metrics.
func NewReporter(metrics *Metrics, logger logging.Logger) *Reporter {
	return &Reporter{metrics: metrics, logger: logger}
}

// Report converts est, produced for the frame captured at capturedAt, to a landing target. A nil
// result means there is no target this frame. Only a fresh estimate counts as a detection. A held
// target is stamped with the capture time of the fix it repeats, not with capturedAt.
func (r *Reporter) Report(capturedAt time.Time, est *fusion.Estimate) *LandingTarget {
	if est == nil || est.Held {
		r.metrics.RecordMiss()
	} else {
		r.metrics.RecordDetection()
		if est.Blending {
			r.metrics.RecordBlend()
		}
	}
	if est == nil {
		r.logger.Debug("no landing target")
		return nil
	}

	if est.Held && !est.Timestamp.IsZero() {
		capturedAt = est.Timestamp
	}
	size := angularSize(est.SideLengthM, est.Distance)
	target := &LandingTarget{
		TimeUsec:   sinceMicros(r.metrics.SessionStart(), capturedAt),
		CapturedAt: capturedAt,
		MarkerID:   est.MarkerID,
		AngleX:     est.HorizontalAngle,
		AngleY:     est.VerticalAngle,
		Distance:   est.Distance,
		SizeX:      size,
		SizeY:      size,
		Held:       est.Held,
	}
	r.logger.Debugw("landing target", "target", target.String())
	return target
}

// Metrics returns the counters the reporter updates.
func (r *Reporter) Metrics() *Metrics {
	return r.metrics
}

func angularSize(sideM, distanceM float64) float64 {
	if sideM <= 0 || distanceM <= 0 {
		return 0
	}
	return 2 * math.Atan(sideM/2/distanceM)
}

func sinceMicros(start, t time.Time) uint64 {
	d := t.Sub(start)
	if d < 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
