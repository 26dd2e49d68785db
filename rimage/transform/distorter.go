package transform

import "github.com/pkg/errors"

// DistortionType names a lens model.
type DistortionType string

// BrownConradyDistortionType is the radial plus tangential model OpenCV calibrations produce.
const BrownConradyDistortionType = DistortionType("brown_conrady")

// ErrInvalidDistortion is wrapped by every lens model validation failure.
var ErrInvalidDistortion = errors.New("invalid distortion parameters")

// Distorter maps normalized image coordinates between the ideal pinhole plane and the lens plane.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	// Transform applies the lens to an ideal point.
	Transform(x, y float64) (float64, float64)
	// Undistort recovers the ideal point that Transform would map onto (xd, yd).
	Undistort(xd, yd float64) (float64, float64)
}

func invalidDistortion(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidDistortion, format, args...)
}
