// Package pose recovers a marker's position relative to the camera from its four image corners
// and turns it into landing-target bearing angles and slant distance.
package pose

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/marker"
	"go.viam.com/precisionland/rimage/transform"
)

// ErrPose is wrapped by every estimation failure. Callers treat it as "marker not detected".
var ErrPose = errors.New("cannot estimate marker pose")

const (
	// minCornerSeparationPx is the smallest distance allowed between two corners.
	minCornerSeparationPx = 1.0
	// minTriangleAreaPx is the smallest area, in square pixels, of any triangle formed by three corners.
	minTriangleAreaPx = 0.5
)

// TargetEstimate is the marker position relative to the camera for one frame.
//
// The camera frame is x right, y down, z along the boresight.
type TargetEstimate struct {
	// HorizontalAngle is atan2(x, z) in radians; positive means the marker is right of boresight.
	HorizontalAngle float64
	// VerticalAngle is atan2(y, z) in radians; positive means the marker is below boresight.
	VerticalAngle float64
	// Distance is the slant range to the marker center in meters.
	Distance float64
	// Translation is the marker center in the camera frame, in meters.
	Translation r3.Vector
	// Rotation takes marker-frame vectors to the camera frame.
	Rotation *mat.Dense

	Timestamp time.Time
	MarkerID  int
	// SideLengthM is the physical side length of the marker that produced the estimate.
	SideLengthM float64
	// OutsideFOV is set when the bearing lies outside the camera's field of view, which the
	// geometry does not allow for a real detection.
	OutsideFOV bool
}

func (e TargetEstimate) String() string {
	return fmt.Sprintf("marker %d: h=%.4frad v=%.4frad d=%.3fm", e.MarkerID, e.HorizontalAngle, e.VerticalAngle, e.Distance)
}

// Estimator owns the camera model and solves marker poses against it.
type Estimator struct {
	camera       *transform.PinholeCameraModel
	halfFOVH     float64
	halfFOVV     float64
	fovTolerance float64
	logger       logging.Logger
}

// NewEstimator builds an estimator for camera. fovToleranceRad widens the field of view used to
// flag out-of-view results.
func NewEstimator(camera *transform.PinholeCameraModel, fovToleranceRad float64, logger logging.Logger) (*Estimator, error) {
	if camera == nil {
		return nil, transform.NewNoIntrinsicsError("pose estimator needs a camera model")
	}
	if err := camera.CheckValid(); err != nil {
		return nil, err
	}
	if fovToleranceRad < 0 || math.IsNaN(fovToleranceRad) {
		return nil, errors.Errorf("field of view tolerance must be non-negative, got %v", fovToleranceRad)
	}
	h, v := camera.FieldOfView()
	return &Estimator{
		camera:       camera,
		halfFOVH:     h / 2,
		halfFOVV:     v / 2,
		fovTolerance: fovToleranceRad,
		logger:       logger,
	}, nil
}

// Estimate solves the pose of spec's marker from its corners, given in detector order:
// top-left, top-right, bottom-right, bottom-left.
func (e *Estimator) Estimate(corners [4]r2.Point, spec marker.Spec, capturedAt time.Time) (TargetEstimate, error) {
	if err := checkCorners(corners); err != nil {
		return TargetEstimate{}, err
	}
	if spec.SideLengthCM <= 0 {
		return TargetEstimate{}, errors.Wrapf(ErrPose, "marker %d has no physical size", spec.ID)
	}

	half := spec.SideLengthM() / 2
	object := []r2.Point{
		{X: -half, Y: half},
		{X: half, Y: half},
		{X: half, Y: -half},
		{X: -half, Y: -half},
	}
	image := make([]r2.Point, len(corners))
	for i, c := range corners {
		image[i] = e.camera.UndistortPixel(c)
	}

	h, err := transform.EstimateHomography(object, image)
	if err != nil {
		return TargetEstimate{}, errors.Wrap(ErrPose, err.Error())
	}
	rotation, translation, err := decomposePlanarHomography(h)
	if err != nil {
		return TargetEstimate{}, err
	}

	est := TargetEstimate{
		HorizontalAngle: math.Atan2(translation.X, translation.Z),
		VerticalAngle:   math.Atan2(translation.Y, translation.Z),
		Distance:        translation.Norm(),
		Translation:     translation,
		Rotation:        rotation,
		Timestamp:       capturedAt,
		MarkerID:        spec.ID,
		SideLengthM:     spec.SideLengthM(),
	}
	if !finite(est.HorizontalAngle, est.VerticalAngle, est.Distance) {
		return TargetEstimate{}, errors.Wrap(ErrPose, "solution is not finite")
	}
	if math.Abs(est.HorizontalAngle) > e.halfFOVH+e.fovTolerance ||
		math.Abs(est.VerticalAngle) > e.halfFOVV+e.fovTolerance {
		est.OutsideFOV = true
		e.logger.Warnw("marker bearing outside the camera field of view",
			"marker", spec.ID,
			"horizontal_rad", est.HorizontalAngle,
			"vertical_rad", est.VerticalAngle,
			"half_fov_h_rad", e.halfFOVH,
			"half_fov_v_rad", e.halfFOVV)
	}
	return est, nil
}

// decomposePlanarHomography splits H ~ [r1 r2 t] into a rotation and a translation with the
// marker in front of the camera.
func decomposePlanarHomography(h *transform.Homography) (*mat.Dense, r3.Vector, error) {
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}

	norm := (h1.Norm() + h2.Norm()) / 2
	if norm == 0 || !finite(norm) {
		return nil, r3.Vector{}, errors.Wrap(ErrPose, "homography has no scale")
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}
	translation := h3.Mul(lambda)
	if translation.Z <= 0 {
		return nil, r3.Vector{}, errors.Wrap(ErrPose, "marker is not in front of the camera")
	}

	r1 := h1.Mul(lambda)
	r2v := h2.Mul(lambda)
	r3v := r1.Cross(r2v)
	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})

	// closest rotation in the Frobenius sense: U * V^T
	var svd mat.SVD
	if ok := svd.Factorize(approx, mat.SVDFull); !ok {
		return nil, r3.Vector{}, errors.Wrap(ErrPose, "cannot orthonormalize rotation")
	}
	var u, v, rotation mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rotation.Mul(&u, v.T())
	if mat.Det(&rotation) < 0 {
		return nil, r3.Vector{}, errors.Wrap(ErrPose, "rotation is a reflection")
	}
	return &rotation, translation, nil
}

// checkCorners rejects corner sets that cannot be a marker seen in perspective: non-finite values,
// repeated corners, three collinear corners, or a self-intersecting outline.
func checkCorners(corners [4]r2.Point) error {
	for i, c := range corners {
		if !finite(c.X, c.Y) {
			return errors.Wrapf(ErrPose, "corner %d is not finite", i)
		}
	}
	for i := 0; i < len(corners); i++ {
		for j := i + 1; j < len(corners); j++ {
			if corners[i].Sub(corners[j]).Norm() < minCornerSeparationPx {
				return errors.Wrapf(ErrPose, "corners %d and %d coincide", i, j)
			}
		}
	}
	for skip := 0; skip < len(corners); skip++ {
		var tri []r2.Point
		for i, c := range corners {
			if i != skip {
				tri = append(tri, c)
			}
		}
		if math.Abs(tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0])))/2 < minTriangleAreaPx {
			return errors.Wrap(ErrPose, "three corners are collinear")
		}
	}
	sign := 0.0
	for i := range corners {
		a, b, c := corners[i], corners[(i+1)%4], corners[(i+2)%4]
		turn := b.Sub(a).Cross(c.Sub(b))
		if sign == 0 {
			sign = math.Copysign(1, turn)
			continue
		}
		if math.Copysign(1, turn) != sign {
			return errors.Wrap(ErrPose, "corners do not form a convex quadrilateral")
		}
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
