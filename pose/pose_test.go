package pose

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/marker"
	"go.viam.com/precisionland/rimage/transform"
)

var (
	highMarker = marker.Spec{ID: 129, SideLengthCM: 40, AltitudeThresholdM: 7}
	lowMarker  = marker.Spec{ID: 72, SideLengthCM: 19, AltitudeThresholdM: 4}
)

func piCamV2() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 530.8, Fy: 530.8,
		Ppx: 320, Ppy: 240,
		HorizontalFOVDeg: 62.2, VerticalFOVDeg: 48.8,
	}
}

func newTestEstimator(t *testing.T, intrinsics *transform.PinholeCameraIntrinsics, dist transform.Distorter) (*Estimator, *transform.PinholeCameraModel) {
	t.Helper()
	model, err := transform.NewPinholeCameraModel(intrinsics, dist)
	test.That(t, err, test.ShouldBeNil)
	est, err := NewEstimator(model, 0.01, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return est, model
}

// projectMarker renders the corners of a marker facing the camera, yawed by tilt radians about
// the camera's vertical axis and centered at center.
func projectMarker(model *transform.PinholeCameraModel, spec marker.Spec, center r3.Vector, tilt float64) [4]r2.Point {
	half := spec.SideLengthM() / 2
	object := [4]r2.Point{{X: -half, Y: half}, {X: half, Y: half}, {X: half, Y: -half}, {X: -half, Y: -half}}
	var corners [4]r2.Point
	for i, p := range object {
		// marker frame to camera frame: flip y and z, then tilt about y
		x, y := p.X, -p.Y
		cam := r3.Vector{X: x * math.Cos(tilt), Y: y, Z: -x * math.Sin(tilt)}
		corners[i] = model.ProjectPoint(cam.Add(center))
	}
	return corners
}

func TestEstimateOnBoresight(t *testing.T) {
	est, model := newTestEstimator(t, piCamV2(), nil)
	now := time.Now()

	corners := projectMarker(model, highMarker, r3.Vector{Z: 8}, 0)
	got, err := est.Estimate(corners, highMarker, now)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Distance, test.ShouldAlmostEqual, 8, 0.08)
	test.That(t, got.HorizontalAngle, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, got.VerticalAngle, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, got.MarkerID, test.ShouldEqual, 129)
	test.That(t, got.SideLengthM, test.ShouldAlmostEqual, 0.4)
	test.That(t, got.Timestamp, test.ShouldEqual, now)
	test.That(t, got.OutsideFOV, test.ShouldBeFalse)
}

func TestEstimateOffAxisTilted(t *testing.T) {
	est, model := newTestEstimator(t, piCamV2(), nil)

	for _, tc := range []struct {
		name   string
		spec   marker.Spec
		center r3.Vector
		tilt   float64
	}{
		{"right and below", highMarker, r3.Vector{X: 1.2, Y: 0.6, Z: 6.5}, 0},
		{"left and above tilted", highMarker, r3.Vector{X: -0.9, Y: -1.1, Z: 7.5}, 0.25},
		{"small marker close", lowMarker, r3.Vector{X: 0.3, Y: -0.2, Z: 3}, -0.35},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := est.Estimate(projectMarker(model, tc.spec, tc.center, tc.tilt), tc.spec, time.Time{})
			test.That(t, err, test.ShouldBeNil)
			want := tc.center.Norm()
			test.That(t, got.Distance, test.ShouldAlmostEqual, want, want*0.01)
			test.That(t, got.HorizontalAngle, test.ShouldAlmostEqual, math.Atan2(tc.center.X, tc.center.Z), 1e-3)
			test.That(t, got.VerticalAngle, test.ShouldAlmostEqual, math.Atan2(tc.center.Y, tc.center.Z), 1e-3)
			test.That(t, got.Translation.X, test.ShouldAlmostEqual, tc.center.X, 0.05)
			test.That(t, got.Translation.Y, test.ShouldAlmostEqual, tc.center.Y, 0.05)
		})
	}
}

func TestEstimateWithLensDistortion(t *testing.T) {
	bc, err := transform.NewBrownConradyFromOpenCV([]float64{0.12, -0.25, 0.001, -0.0015, 0.08})
	test.That(t, err, test.ShouldBeNil)
	est, model := newTestEstimator(t, piCamV2(), bc)

	center := r3.Vector{X: 1.5, Y: 1.0, Z: 5}
	got, err := est.Estimate(projectMarker(model, highMarker, center, 0.1), highMarker, time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Distance, test.ShouldAlmostEqual, center.Norm(), center.Norm()*0.01)
	test.That(t, got.HorizontalAngle, test.ShouldAlmostEqual, math.Atan2(1.5, 5), 1e-3)
	test.That(t, got.VerticalAngle, test.ShouldAlmostEqual, math.Atan2(1.0, 5), 1e-3)
}

func TestEstimateRotationIsOrthonormal(t *testing.T) {
	est, model := newTestEstimator(t, piCamV2(), nil)
	got, err := est.Estimate(projectMarker(model, highMarker, r3.Vector{X: 0.4, Z: 6}, 0.3), highMarker, time.Time{})
	test.That(t, err, test.ShouldBeNil)

	r := got.Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := r.At(0, i)*r.At(0, j) + r.At(1, i)*r.At(1, j) + r.At(2, i)*r.At(2, j)
			want := 0.0
			if i == j {
				want = 1
			}
			test.That(t, dot, test.ShouldAlmostEqual, want, 1e-9)
		}
	}
	// the marker normal points back toward the camera
	test.That(t, r.At(2, 2), test.ShouldBeLessThan, 0)
}

func TestEstimateRejectsDegenerateCorners(t *testing.T) {
	est, _ := newTestEstimator(t, piCamV2(), nil)

	for _, tc := range []struct {
		name    string
		corners [4]r2.Point
	}{
		{"collinear", [4]r2.Point{{X: 100, Y: 100}, {X: 150, Y: 100}, {X: 200, Y: 100}, {X: 200, Y: 150}}},
		{"all collinear", [4]r2.Point{{X: 100, Y: 100}, {X: 120, Y: 110}, {X: 140, Y: 120}, {X: 160, Y: 130}}},
		{"duplicate", [4]r2.Point{{X: 100, Y: 100}, {X: 100, Y: 100}, {X: 150, Y: 150}, {X: 100, Y: 150}}},
		{"bow tie", [4]r2.Point{{X: 100, Y: 100}, {X: 150, Y: 150}, {X: 150, Y: 100}, {X: 100, Y: 150}}},
		{"concave", [4]r2.Point{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 130, Y: 130}, {X: 100, Y: 200}}},
		{"nan", [4]r2.Point{{X: math.NaN(), Y: 100}, {X: 150, Y: 100}, {X: 150, Y: 150}, {X: 100, Y: 150}}},
		{"inf", [4]r2.Point{{X: 100, Y: 100}, {X: math.Inf(1), Y: 100}, {X: 150, Y: 150}, {X: 100, Y: 150}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := est.Estimate(tc.corners, highMarker, time.Time{})
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrPose), test.ShouldBeTrue)
			test.That(t, math.IsNaN(got.Distance), test.ShouldBeFalse)
			test.That(t, math.IsNaN(got.HorizontalAngle), test.ShouldBeFalse)
			test.That(t, math.IsNaN(got.VerticalAngle), test.ShouldBeFalse)
		})
	}
}

func TestEstimateRejectsSizelessMarker(t *testing.T) {
	est, model := newTestEstimator(t, piCamV2(), nil)
	corners := projectMarker(model, highMarker, r3.Vector{Z: 8}, 0)
	_, err := est.Estimate(corners, marker.Spec{ID: 3}, time.Time{})
	test.That(t, errors.Is(err, ErrPose), test.ShouldBeTrue)
}

func TestEstimateFlagsOutsideFOV(t *testing.T) {
	narrow := piCamV2()
	narrow.HorizontalFOVDeg = 20
	est, model := newTestEstimator(t, narrow, nil)

	center := r3.Vector{X: 2, Z: 6}
	got, err := est.Estimate(projectMarker(model, highMarker, center, 0), highMarker, time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.OutsideFOV, test.ShouldBeTrue)
	// never clamped to the field of view
	test.That(t, got.HorizontalAngle, test.ShouldAlmostEqual, math.Atan2(2, 6), 1e-3)

	inside, err := est.Estimate(projectMarker(model, highMarker, r3.Vector{X: 0.5, Z: 6}, 0), highMarker, time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inside.OutsideFOV, test.ShouldBeFalse)
}

func TestNewEstimatorValidation(t *testing.T) {
	_, err := NewEstimator(nil, 0, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)

	model, err := transform.NewPinholeCameraModel(piCamV2(), nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewEstimator(model, -0.1, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
