package transform

import (
	"math"

	"github.com/pkg/errors"
)

const (
	undistortIterations = 20
	undistortTolerance  = 1e-10
)

// BrownConrady holds radial (k1, k2, k3) and tangential (p1, p2) lens coefficients.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// CheckValid rejects a missing model or non-finite coefficients.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return invalidDistortion("no %s coefficients", BrownConradyDistortionType)
	}
	for i, p := range bc.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return invalidDistortion("coefficient %d is not finite", i)
		}
	}
	return nil
}

// NewBrownConrady reads coefficients in (k1, k2, k3, p1, p2) order; missing trailing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	p, err := padCoefficients(inp)
	if err != nil {
		return nil, err
	}
	return &BrownConrady{RadialK1: p[0], RadialK2: p[1], RadialK3: p[2], TangentialP1: p[3], TangentialP2: p[4]}, nil
}

// NewBrownConradyFromOpenCV reads the OpenCV distortion vector (k1, k2, p1, p2, k3).
func NewBrownConradyFromOpenCV(coeffs []float64) (*BrownConrady, error) {
	p, err := padCoefficients(coeffs)
	if err != nil {
		return nil, err
	}
	return &BrownConrady{RadialK1: p[0], RadialK2: p[1], TangentialP1: p[2], TangentialP2: p[3], RadialK3: p[4]}, nil
}

func padCoefficients(in []float64) ([5]float64, error) {
	var out [5]float64
	if len(in) > len(out) {
		return out, errors.Errorf("expected at most %d distortion coefficients, got %d", len(out), len(in))
	}
	copy(out[:], in)
	return out, nil
}

// ModelType returns BrownConradyDistortionType.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns (k1, k2, k3, p1, p2).
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Transform applies the lens to the ideal normalized point (x, y), following OpenCV's model:
// https://docs.opencv.org/4.x/d9/d0c/group__calib3d.html
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	k := bc.radial(r2)
	xy := x * y
	return x*k + 2*bc.TangentialP1*xy + bc.TangentialP2*(r2+2*x*x),
		y*k + 2*bc.TangentialP2*xy + bc.TangentialP1*(r2+2*y*y)
}

func (bc *BrownConrady) radial(r2 float64) float64 {
	return 1 + r2*(bc.RadialK1+r2*(bc.RadialK2+r2*bc.RadialK3))
}

// Undistort inverts Transform with Newton steps seeded at the distorted point. It returns the last
// iterate when the Jacobian becomes singular.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		fx, fy := bc.Transform(x, y)
		ex, ey := fx-xd, fy-yd
		if ex*ex+ey*ey < undistortTolerance*undistortTolerance {
			break
		}
		a, b, c, d := bc.jacobian(x, y)
		det := a*d - b*c
		if math.Abs(det) < 1e-15 {
			break
		}
		x -= (d*ex - b*ey) / det
		y -= (a*ey - c*ex) / det
	}
	return x, y
}

// jacobian returns the partial derivatives of Transform at (x, y) as a row-major 2x2 matrix.
func (bc *BrownConrady) jacobian(x, y float64) (float64, float64, float64, float64) {
	r2 := x*x + y*y
	k := bc.radial(r2)
	dk := bc.RadialK1 + r2*(2*bc.RadialK2+3*r2*bc.RadialK3)
	p1, p2 := bc.TangentialP1, bc.TangentialP2
	dxdx := k + 2*x*x*dk + 2*p1*y + 6*p2*x
	dxdy := 2*x*y*dk + 2*p1*x + 2*p2*y
	dydx := 2*x*y*dk + 2*p2*y + 2*p1*x
	dydy := k + 2*y*y*dk + 2*p2*x + 6*p1*y
	return dxdx, dxdy, dydx, dydy
}
