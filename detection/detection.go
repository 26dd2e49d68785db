// Package detection defines the boundary to the fiducial marker detector.
package detection

import (
	"context"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"

	"go.viam.com/precisionland/camera"
)

// Detection is one marker found in a frame. Corners are pixel coordinates ordered top-left,
// top-right, bottom-right, bottom-left relative to the printed marker.
type Detection struct {
	MarkerID int
	Corners  [4]r2.Point
}

// Center is the mean of the corners.
func (d Detection) Center() r2.Point {
	var c r2.Point
	for _, p := range d.Corners {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

func (d Detection) String() string {
	return fmt.Sprintf("marker %d at %v", d.MarkerID, d.Center())
}

// A Detector finds every marker visible in a frame. Finding nothing is not an error.
type Detector interface {
	Detect(ctx context.Context, frame camera.Frame) ([]Detection, error)
}

// Find returns the detection for markerID, ignoring every other marker.
func Find(dets []Detection, markerID int) (Detection, bool) {
	return lo.Find(dets, func(d Detection) bool { return d.MarkerID == markerID })
}
