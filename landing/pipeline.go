// Package landing runs the per-frame precision landing loop.
package landing

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/precisionland/camera"
	"go.viam.com/precisionland/detection"
	"go.viam.com/precisionland/fusion"
	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/marker"
	"go.viam.com/precisionland/pose"
	"go.viam.com/precisionland/report"
)

// FrameSource hands out the newest camera frame, blocking until one is available.
type FrameSource interface {
	Next(ctx context.Context) (camera.Frame, error)
}

// Components are the collaborators of a Pipeline. All are required.
type Components struct {
	Vehicle   Vehicle
	Frames    FrameSource
	Detector  detection.Detector
	Selector  *marker.Selector
	Estimator *pose.Estimator
	Fuser     *fusion.Fuser
	Reporter  *report.Reporter
	Clock     clock.Clock
}

func (c Components) validate() error {
	switch {
	case c.Vehicle == nil:
		return errors.New("pipeline needs a vehicle")
	case c.Frames == nil:
		return errors.New("pipeline needs a frame source")
	case c.Detector == nil:
		return errors.New("pipeline needs a detector")
	case c.Selector == nil:
		return errors.New("pipeline needs a marker selector")
	case c.Estimator == nil:
		return errors.New("pipeline needs a pose estimator")
	case c.Fuser == nil:
		return errors.New("pipeline needs a fuser")
	case c.Reporter == nil:
		return errors.New("pipeline needs a reporter")
	case c.Clock == nil:
		return errors.New("pipeline needs a clock")
	}
	return nil
}

// StepResult describes one iteration of the loop.
type StepResult struct {
	Frame    uint64
	Altitude float64
	Marker   marker.Spec
	// Estimate is the raw pose for this frame, nil when the active marker was not usable.
	Estimate *pose.TargetEstimate
	// Target is the landing target for the frame, nil for no target. Only targets that are not
	// Held are sent to the vehicle.
	Target *report.LandingTarget
}

// Pipeline turns frames into landing targets. It is driven from a single goroutine.
type Pipeline struct {
	Components
	logger logging.Logger

	interval     time.Duration
	activeMarker int
	steps        uint64
}

// NewPipeline wires c together. A positive rateHz caps how often Run steps.
func NewPipeline(c Components, rateHz float64, logger logging.Logger) (*Pipeline, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if rateHz < 0 || math.IsNaN(rateHz) {
		return nil, errors.Errorf("loop rate must be non-negative, got %v", rateHz)
	}
	p := &Pipeline{Components: c, logger: logger, activeMarker: -1}
	if rateHz > 0 {
		p.interval = time.Duration(float64(time.Second) / rateHz)
	}
	return p, nil
}

// Step runs one frame. Only cancellation of ctx or the end of the frame stream are returned as
// errors; everything else degrades to no target for the frame.
func (p *Pipeline) Step(ctx context.Context) (StepResult, error) {
	p.steps++
	res := StepResult{Altitude: math.NaN()}

	if alt, err := p.Vehicle.Altitude(); err != nil {
		p.logger.Debugw("altitude unavailable, keeping the active marker", "error", err)
		res.Marker = p.Selector.Active()
	} else {
		res.Altitude = alt
		res.Marker = p.Selector.Select(alt)
	}
	if res.Marker.ID != p.activeMarker {
		if p.activeMarker >= 0 {
			p.Reporter.Metrics().RecordSwitch()
		}
		p.activeMarker = res.Marker.ID
	}

	frame, est, err := p.observe(ctx, res.Marker)
	if err != nil {
		return res, err
	}
	res.Frame = frame.Seq
	res.Estimate = est

	fused := p.Fuser.Update(est)
	res.Target = p.Reporter.Report(frame.CapturedAt, fused)
	// A held target repeats an older fix; the autopilot only gets fresh ones.
	if res.Target != nil && !res.Target.Held {
		if err := p.Vehicle.SendLandingTarget(ctx, *res.Target); err != nil {
			p.logger.Warnw("cannot send landing target", "error", err)
		}
	}
	return res, nil
}

// observe reads the next frame and returns the pose of spec's marker in it, or a nil estimate
// when the marker is not usable.
func (p *Pipeline) observe(ctx context.Context, spec marker.Spec) (camera.Frame, *pose.TargetEstimate, error) {
	frame, err := p.Frames.Next(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, camera.ErrClosed) {
			return camera.Frame{}, nil, err
		}
		p.logger.Warnw("skipping frame", "error", err)
		return camera.Frame{CapturedAt: p.Clock.Now()}, nil, nil
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = p.Clock.Now()
	}

	dets, err := p.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return frame, nil, ctx.Err()
		}
		p.logger.Warnw("detection failed", "frame", frame.Seq, "error", err)
		return frame, nil, nil
	}
	det, ok := detection.Find(dets, spec.ID)
	if !ok {
		p.logger.Debugw("active marker not seen", "frame", frame.Seq, "marker", spec.ID, "visible", len(dets))
		return frame, nil, nil
	}

	est, err := p.Estimator.Estimate(det.Corners, spec, frame.CapturedAt)
	if err != nil {
		p.logger.Infow("discarding marker", "frame", frame.Seq, "marker", spec.ID, "error", err)
		return frame, nil, nil
	}
	if est.OutsideFOV {
		p.logger.Infow("discarding marker outside the field of view", "frame", frame.Seq, "estimate", est.String())
		return frame, nil, nil
	}
	return frame, &est, nil
}

// Run steps until ctx is canceled, the vehicle reports Done, or the frames run out, then logs the
// session summary. It returns ctx.Err() only when canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		p.logger.Infow("landing summary", "summary", p.Reporter.Metrics().Summary().String())
	}()

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := p.Clock.Ticker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Vehicle.Done():
			p.logger.Info("vehicle link finished, stopping")
			return nil
		default:
		}

		if _, err := p.Step(ctx); err != nil {
			if errors.Is(err, camera.ErrClosed) {
				p.logger.Info("frame stream ended, stopping")
				return nil
			}
			return err
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.Vehicle.Done():
				p.logger.Info("vehicle link finished, stopping")
				return nil
			case <-tick:
			}
		}
	}
}

// Steps returns how many frames have been processed.
func (p *Pipeline) Steps() uint64 {
	return p.steps
}
