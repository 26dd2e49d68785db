package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoIntrinsics is wrapped by every intrinsics validation failure.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError wraps ErrNoIntrinsics with msg.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// NewPinholeCameraModel pairs intrinsics with an optional distortion model. A nil distorter means
// the lens is treated as distortion free.
func NewPinholeCameraModel(intrinsics *PinholeCameraIntrinsics, distortion Distorter) (*PinholeCameraModel, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if distortion != nil {
		if err := distortion.CheckValid(); err != nil {
			return nil, err
		}
	}
	return &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion}, nil
}

// UndistortPixel maps a distorted pixel to undistorted normalized image coordinates, i.e. the
// (x/z, y/z) of the ray through the pixel.
func (params *PinholeCameraModel) UndistortPixel(px r2.Point) r2.Point {
	x := (px.X - params.Ppx) / params.Fx
	y := (px.Y - params.Ppy) / params.Fy
	if params.Distortion != nil {
		x, y = params.Distortion.Undistort(x, y)
	}
	return r2.Point{X: x, Y: y}
}

// ProjectPoint projects a point in the camera frame to a distorted pixel. Points at or behind the
// camera plane project to (-1, -1).
func (params *PinholeCameraModel) ProjectPoint(pt r3.Vector) r2.Point {
	if pt.Z <= 0 {
		return r2.Point{X: -1, Y: -1}
	}
	x, y := pt.X/pt.Z, pt.Y/pt.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
// The field of view is optional; when zero it is derived from the focal lengths and image size.
type PinholeCameraIntrinsics struct {
	Width            int     `json:"width_px"`
	Height           int     `json:"height_px"`
	Fx               float64 `json:"fx"`
	Fy               float64 `json:"fy"`
	Ppx              float64 `json:"ppx"`
	Ppy              float64 `json:"ppy"`
	HorizontalFOVDeg float64 `json:"horizontal_fov_degs,omitempty"`
	VerticalFOVDeg   float64 `json:"vertical_fov_degs,omitempty"`
}

// CheckValid requires a positive resolution and focal length, a principal point that is not
// negative and, when set, fields of view below 180 degrees.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("no intrinsics given")
	}
	switch {
	case params.Width <= 0 || params.Height <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("resolution %dx%d is not positive", params.Width, params.Height))
	case params.Fx <= 0 || params.Fy <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("focal length (%g, %g) is not positive", params.Fx, params.Fy))
	case params.Ppx < 0 || params.Ppy < 0:
		return NewNoIntrinsicsError(fmt.Sprintf("principal point (%g, %g) is negative", params.Ppx, params.Ppy))
	case !validFOV(params.HorizontalFOVDeg) || !validFOV(params.VerticalFOVDeg):
		return NewNoIntrinsicsError(fmt.Sprintf("field of view %gx%g degrees is out of range",
			params.HorizontalFOVDeg, params.VerticalFOVDeg))
	}
	return nil
}

func validFOV(deg float64) bool {
	return deg >= 0 && deg < 180
}

// FieldOfView returns the full horizontal and vertical field of view in radians.
func (params *PinholeCameraIntrinsics) FieldOfView() (float64, float64) {
	h := 2 * math.Atan(float64(params.Width)/(2*params.Fx))
	if params.HorizontalFOVDeg > 0 {
		h = params.HorizontalFOVDeg * math.Pi / 180
	}
	v := 2 * math.Atan(float64(params.Height)/(2*params.Fy))
	if params.VerticalFOVDeg > 0 {
		v = params.VerticalFOVDeg * math.Pi / 180
	}
	return h, v
}

// NewPinholeCameraIntrinsicsFromJSONFile reads intrinsics written in the width_px/fx/ppx layout.
// Unknown keys are ignored so full camera configs can be pointed at directly.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	f, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening intrinsics file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.NewDecoder(f).Decode(intrinsics); err != nil {
		return nil, errors.Wrapf(err, "parsing intrinsics file %q", jsonPath)
	}
	return intrinsics, nil
}
