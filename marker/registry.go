// Package marker holds the two fiducial markers of a landing pad and picks which one to track
// from the vehicle's altitude.
package marker

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrUnknownMarker is returned when looking up an identifier that is not registered.
var ErrUnknownMarker = errors.New("unknown marker")

// Range is an altitude interval in meters. Min is exclusive unless MinInclusive is set; Max is
// always inclusive.
type Range struct {
	Min          float64
	Max          float64
	MinInclusive bool
}

// Contains reports whether altitude lies in the range.
func (r Range) Contains(altitude float64) bool {
	if altitude > r.Max {
		return false
	}
	if r.MinInclusive {
		return altitude >= r.Min
	}
	return altitude > r.Min
}

func (r Range) String() string {
	lower := "("
	if r.MinInclusive {
		lower = "["
	}
	return fmt.Sprintf("%s%.2f, %.2f]", lower, r.Min, r.Max)
}

// Spec describes one printed marker.
type Spec struct {
	ID                 int     `json:"id"`
	SideLengthCM       float64 `json:"side_length_cm"`
	AltitudeThresholdM float64 `json:"altitude_threshold_m"`

	// ValidAltitude is filled in by NewRegistry.
	ValidAltitude Range `json:"-"`
}

// SideLengthM returns the side length in meters.
func (s Spec) SideLengthM() float64 {
	return s.SideLengthCM / 100
}

func (s Spec) String() string {
	return fmt.Sprintf("marker %d (%.0fcm, %s m)", s.ID, s.SideLengthCM, s.ValidAltitude)
}

// Registry is the immutable table of the two known markers.
type Registry struct {
	low, high Spec
}

// NewRegistry validates specs and builds a registry. Exactly two markers are required; the one
// with the lower altitude threshold is the low-altitude (smaller) marker. The low marker owns
// the band [0, low threshold] and the high marker everything above it.
func NewRegistry(specs ...Spec) (*Registry, error) {
	if len(specs) != 2 {
		return nil, errors.Errorf("expected exactly 2 markers, got %d", len(specs))
	}
	for _, s := range specs {
		if s.SideLengthCM <= 0 || math.IsNaN(s.SideLengthCM) || math.IsInf(s.SideLengthCM, 0) {
			return nil, errors.Errorf("marker %d: side length must be positive, got %v", s.ID, s.SideLengthCM)
		}
		if s.AltitudeThresholdM < 0 || math.IsNaN(s.AltitudeThresholdM) || math.IsInf(s.AltitudeThresholdM, 0) {
			return nil, errors.Errorf("marker %d: altitude threshold must be a non-negative number, got %v",
				s.ID, s.AltitudeThresholdM)
		}
	}
	if dups := lo.FindDuplicatesBy(specs, func(s Spec) int { return s.ID }); len(dups) > 0 {
		return nil, errors.Errorf("marker %d registered twice", dups[0].ID)
	}
	if specs[0].AltitudeThresholdM == specs[1].AltitudeThresholdM {
		return nil, errors.Errorf("markers %d and %d share altitude threshold %vm",
			specs[0].ID, specs[1].ID, specs[0].AltitudeThresholdM)
	}

	ordered := append([]Spec(nil), specs...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].AltitudeThresholdM < ordered[j].AltitudeThresholdM
	})
	low, high := ordered[0], ordered[1]
	if low.SideLengthCM > high.SideLengthCM {
		return nil, errors.Errorf("low altitude marker %d (%vcm) must not be larger than high altitude marker %d (%vcm)",
			low.ID, low.SideLengthCM, high.ID, high.SideLengthCM)
	}
	low.ValidAltitude = Range{Min: 0, Max: low.AltitudeThresholdM, MinInclusive: true}
	high.ValidAltitude = Range{Min: low.AltitudeThresholdM, Max: math.Inf(1)}

	return &Registry{low: low, high: high}, nil
}

// Spec looks up a marker by identifier.
func (r *Registry) Spec(id int) (Spec, error) {
	switch id {
	case r.low.ID:
		return r.low, nil
	case r.high.ID:
		return r.high, nil
	default:
		return Spec{}, errors.Wrapf(ErrUnknownMarker, "id %d", id)
	}
}

// Specs returns the markers ordered from low to high altitude.
func (r *Registry) Specs() []Spec {
	return []Spec{r.low, r.high}
}

// IDs returns the registered identifiers ordered from low to high altitude.
func (r *Registry) IDs() []int {
	return lo.Map(r.Specs(), func(s Spec, _ int) int { return s.ID })
}

// Low returns the low-altitude (smaller) marker.
func (r *Registry) Low() Spec {
	return r.low
}

// High returns the high-altitude (larger) marker.
func (r *Registry) High() Spec {
	return r.high
}
