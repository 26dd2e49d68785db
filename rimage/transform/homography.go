package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateHomography is returned when point correspondences do not constrain a homography.
var ErrDegenerateHomography = errors.New("point correspondences do not define a homography")

// Homography is a 3x3 matrix (represented as a 2D array) that maps points of one plane onto
// another plane. Indices are [row][column].
type Homography [3][3]float64

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, h[r][c])
		}
	}
	return m
}

// EstimateHomography computes the homography H such that dst ~ H*src with the normalized direct
// linear transform (Multiple View Geometry, Alg 4.2). At least four correspondences are needed.
// The result is scaled so that its first column has unit length.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 point correspondences, got %d", len(src))
	}
	srcN, t1 := normalizePoints(src)
	dstN, t2 := normalizePoints(dst)
	if t1 == nil || t2 == nil {
		return nil, ErrDegenerateHomography
	}

	// Two rows per correspondence. Square up the system with zero rows so that the full SVD
	// always yields a 9x9 V whose last column spans the null space.
	rows := 2 * len(src)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range srcN {
		s, d := srcN[i], dstN[i]
		a.SetRow(2*i, []float64{
			-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y,
		})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.Wrap(ErrDegenerateHomography, "svd failed to factorize")
	}
	values := svd.Values(nil)
	// the second smallest singular value vanishing means the solution is not unique
	if values[len(values)-2] < 1e-9*values[0] {
		return nil, ErrDegenerateHomography
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// denormalize: H = T2^-1 * Hn * T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	var h mat.Dense
	h.Mul(&t2Inv, hn)
	h.Mul(&h, t1)

	scale := math.Hypot(math.Hypot(h.At(0, 0), h.At(1, 0)), h.At(2, 0))
	if scale == 0 || math.IsNaN(scale) {
		return nil, ErrDegenerateHomography
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = h.At(r, c) / scale
		}
	}
	return &out, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: the centroid
// moves to the origin and the mean distance to it becomes sqrt(2). It returns a nil transform if
// all points coincide.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 {
		return nil, nil
	}
	scale := math.Sqrt(2) / d
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}
