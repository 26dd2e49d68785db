package marker

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/precisionland/logging"
)

// State is the selector's tracking state.
type State int

const (
	// StateUnknown is the state before the first altitude sample.
	StateUnknown State = iota
	// StateTrackingHigh tracks the large, high-altitude marker.
	StateTrackingHigh
	// StateTrackingLow tracks the small, low-altitude marker.
	StateTrackingLow
)

func (s State) String() string {
	switch s {
	case StateTrackingHigh:
		return "TRACKING_HIGH"
	case StateTrackingLow:
		return "TRACKING_LOW"
	default:
		return "UNKNOWN"
	}
}

// Selector picks the marker to look for at the current altitude. Going down, it switches to the
// low marker as soon as the altitude is at or below the low marker's threshold. Going up, it only
// returns to the high marker once the altitude clears the threshold by the hysteresis margin.
//
// A Selector is not safe for concurrent use; it is owned by the frame loop.
type Selector struct {
	registry *Registry
	margin   float64
	logger   logging.Logger

	state        State
	lastAltitude float64
	switches     int
}

// NewSelector returns a selector with the given hysteresis margin in meters. The margin must keep
// the hysteresis band below the high marker's threshold.
func NewSelector(registry *Registry, hysteresisMarginM float64, logger logging.Logger) (*Selector, error) {
	if registry == nil {
		return nil, errors.New("selector needs a marker registry")
	}
	if hysteresisMarginM < 0 || math.IsNaN(hysteresisMarginM) || math.IsInf(hysteresisMarginM, 0) {
		return nil, errors.Errorf("hysteresis margin must be a non-negative number, got %v", hysteresisMarginM)
	}
	low, high := registry.Low(), registry.High()
	if low.AltitudeThresholdM+hysteresisMarginM > high.AltitudeThresholdM {
		return nil, errors.Errorf("hysteresis band (%v + %v m) reaches past the high marker threshold (%v m)",
			low.AltitudeThresholdM, hysteresisMarginM, high.AltitudeThresholdM)
	}
	return &Selector{
		registry:     registry,
		margin:       hysteresisMarginM,
		logger:       logger,
		lastAltitude: math.NaN(),
	}, nil
}

// Select updates the state from the altitude (meters above home) and returns the active marker.
// A non-finite altitude leaves the state unchanged; before any valid sample that means the high
// marker.
func (s *Selector) Select(altitudeM float64) Spec {
	if math.IsNaN(altitudeM) || math.IsInf(altitudeM, 0) {
		s.logger.Warnw("ignoring non-finite altitude", "altitude_m", altitudeM, "state", s.state.String())
		return s.Active()
	}
	threshold := s.registry.Low().AltitudeThresholdM

	next := s.state
	switch s.state {
	case StateUnknown:
		next = StateTrackingLow
		if altitudeM > threshold {
			next = StateTrackingHigh
		}
	case StateTrackingHigh:
		if altitudeM <= threshold {
			next = StateTrackingLow
		}
	case StateTrackingLow:
		if altitudeM > threshold+s.margin {
			next = StateTrackingHigh
		}
	}

	if next != s.state {
		if s.state != StateUnknown {
			s.switches++
		}
		s.logger.Infow("active marker changed",
			"from", s.state.String(), "to", next.String(), "altitude_m", altitudeM)
		s.state = next
	}
	s.lastAltitude = altitudeM
	return s.Active()
}

// Active returns the marker for the current state without sampling a new altitude.
func (s *Selector) Active() Spec {
	if s.state == StateTrackingLow {
		return s.registry.Low()
	}
	return s.registry.High()
}

// State returns the current tracking state.
func (s *Selector) State() State {
	return s.state
}

// LastAltitude returns the last finite altitude passed to Select, or NaN.
func (s *Selector) LastAltitude() float64 {
	return s.lastAltitude
}

// Switches returns how many times the active marker changed after the initial selection.
func (s *Selector) Switches() int {
	return s.switches
}

// Margin returns the hysteresis margin in meters.
func (s *Selector) Margin() float64 {
	return s.margin
}
