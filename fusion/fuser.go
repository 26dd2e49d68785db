// Package fusion smooths per-frame marker estimates and hides the jump that happens when the
// active marker changes.
package fusion

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/pose"
)

// minOutlierSamples is how many same-marker samples the window needs before the outlier gate applies.
const minOutlierSamples = 3

// Estimate is the smoothed target handed to the reporter.
type Estimate struct {
	MarkerID        int
	HorizontalAngle float64
	VerticalAngle   float64
	Distance        float64
	SideLengthM     float64
	// Timestamp is the capture time of the newest estimate that contributed.
	Timestamp time.Time

	// Held is set when no fresh estimate arrived this frame and the last output is repeated.
	Held bool
	// Blending is set while a marker handoff is in progress.
	Blending bool
	// Misses is the number of consecutive frames without a usable estimate.
	Misses int
}

func (e Estimate) String() string {
	state := "fresh"
	switch {
	case e.Held:
		state = fmt.Sprintf("held(%d)", e.Misses)
	case e.Blending:
		state = "blending"
	}
	return fmt.Sprintf("marker %d %s: h=%.4frad v=%.4frad d=%.3fm", e.MarkerID, state, e.HorizontalAngle, e.VerticalAngle, e.Distance)
}

type sample struct {
	markerID int
	h, v, d  float64
}

type transition struct {
	from  Estimate
	frame int
}

// A Fuser keeps the recent history of estimates. It is not safe for concurrent use.
type Fuser struct {
	cfg    Config
	logger logging.Logger

	window     []sample
	last       *Estimate
	lastMarker int
	hasMarker  bool
	misses     int
	blend      *transition
}

// NewFuser returns a Fuser with an empty history.
func NewFuser(cfg Config, logger logging.Logger) (*Fuser, error) {
	if err := cfg.Validate("fusion"); err != nil {
		return nil, err
	}
	return &Fuser{cfg: cfg, logger: logger}, nil
}

// Update feeds the estimate for one frame, nil meaning nothing usable was seen, and returns the
// smoothed target or nil once the target is lost.
func (f *Fuser) Update(est *pose.TargetEstimate) *Estimate {
	if est == nil {
		return f.miss()
	}

	switched := f.hasMarker && est.MarkerID != f.lastMarker
	if !switched && f.isOutlier(est) {
		f.logger.Debugw("rejecting outlier estimate", "marker", est.MarkerID, "distance_m", est.Distance)
		return f.miss()
	}

	if switched {
		// samples from before the switch belong to another marker or to an earlier visit of
		// this one
		f.window = f.window[:0]
		if f.last != nil {
			f.blend = &transition{from: *f.last}
			f.logger.Infow("blending marker handoff",
				"from", f.lastMarker, "to", est.MarkerID, "frames", f.cfg.TransitionFrames)
		}
	}

	f.misses = 0
	f.lastMarker = est.MarkerID
	f.hasMarker = true
	f.push(sample{markerID: est.MarkerID, h: est.HorizontalAngle, v: est.VerticalAngle, d: est.Distance})

	h, v, d := f.windowMean(est.MarkerID)
	out := Estimate{
		MarkerID:        est.MarkerID,
		HorizontalAngle: h,
		VerticalAngle:   v,
		Distance:        d,
		SideLengthM:     est.SideLengthM,
		Timestamp:       est.Timestamp,
	}

	if f.blend != nil {
		f.blend.frame++
		if f.blend.frame >= f.cfg.TransitionFrames {
			f.blend = nil
		} else {
			alpha := float64(f.blend.frame) / float64(f.cfg.TransitionFrames)
			out.HorizontalAngle = lerp(f.blend.from.HorizontalAngle, h, alpha)
			out.VerticalAngle = lerp(f.blend.from.VerticalAngle, v, alpha)
			out.Distance = lerp(f.blend.from.Distance, d, alpha)
			out.Blending = true
		}
	}

	f.last = &out
	return &out
}

func (f *Fuser) miss() *Estimate {
	f.misses++
	if f.last == nil {
		return nil
	}
	if f.misses > f.cfg.MissThreshold {
		f.logger.Infow("target lost", "misses", f.misses, "marker", f.lastMarker)
		f.Reset()
		return nil
	}
	held := *f.last
	held.Held = true
	held.Misses = f.misses
	return &held
}

// Reset drops the history, any handoff in progress, and the last output.
func (f *Fuser) Reset() {
	f.window = f.window[:0]
	f.last = nil
	f.blend = nil
	f.hasMarker = false
}

// Misses returns the current run of consecutive misses.
func (f *Fuser) Misses() int {
	return f.misses
}

func (f *Fuser) push(s sample) {
	f.window = append(f.window, s)
	if len(f.window) > f.cfg.WindowSize {
		f.window = f.window[len(f.window)-f.cfg.WindowSize:]
	}
}

// windowMean averages the window entries that came from markerID. The window is emptied on every
// marker change, so these are the samples since the last handoff.
func (f *Fuser) windowMean(markerID int) (float64, float64, float64) {
	same := lo.Filter(f.window, func(s sample, _ int) bool { return s.markerID == markerID })
	mean := func(get func(sample) float64) float64 {
		m, err := stats.Mean(lo.Map(same, func(s sample, _ int) float64 { return get(s) }))
		if err != nil {
			return 0
		}
		return m
	}
	return mean(func(s sample) float64 { return s.h }),
		mean(func(s sample) float64 { return s.v }),
		mean(func(s sample) float64 { return s.d })
}

func (f *Fuser) isOutlier(est *pose.TargetEstimate) bool {
	if f.cfg.OutlierRatio == 0 {
		return false
	}
	distances := lo.FilterMap(f.window, func(s sample, _ int) (float64, bool) {
		return s.d, s.markerID == est.MarkerID
	})
	if len(distances) < minOutlierSamples {
		return false
	}
	median, err := stats.Median(distances)
	if err != nil {
		return false
	}
	diff := est.Distance - median
	if diff < 0 {
		diff = -diff
	}
	return diff > f.cfg.OutlierRatio*median
}

func lerp(from, to, alpha float64) float64 {
	return from + (to-from)*alpha
}
