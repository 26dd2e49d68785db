package transform

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

const (
	// CameraMatrixFile is the file name of the 3x3 camera matrix in a calibration directory.
	CameraMatrixFile = "cameraMatrix.txt"
	// CameraDistortionFile is the file name of the distortion coefficients in a calibration directory.
	CameraDistortionFile = "cameraDistortion.txt"
)

// LoadCalibration reads the OpenCV style calibration pair (cameraMatrix.txt, cameraDistortion.txt)
// from dir. The files hold comma separated values: three rows of the camera matrix and a single
// row of (k1, k2, p1, p2[, k3]) distortion coefficients. The image size is not part of the
// calibration files and has to be provided by the caller.
func LoadCalibration(dir string, width, height int) (*PinholeCameraModel, error) {
	k, err := readMatrixFile(filepath.Join(dir, CameraMatrixFile))
	if err != nil {
		return nil, err
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if k.At(0, 1) != 0 || k.At(1, 0) != 0 || k.At(2, 0) != 0 || k.At(2, 1) != 0 || k.At(2, 2) != 1 {
		return nil, errors.Errorf("camera matrix is not a pinhole matrix: %v", mat.Formatted(k, mat.Squeeze()))
	}

	coeffs, err := readDistortionFile(filepath.Join(dir, CameraDistortionFile))
	if err != nil {
		return nil, err
	}
	distortion, err := NewBrownConradyFromOpenCV(coeffs)
	if err != nil {
		return nil, err
	}

	intrinsics := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	return NewPinholeCameraModel(intrinsics, distortion)
}

func readMatrixFile(path string) (*mat.Dense, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	rows, err := ReadCSVFloats(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("%s is empty", path)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("%s: row %d has %d values, expected %d", path, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func readDistortionFile(path string) ([]float64, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	rows, err := ReadCSVFloats(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", path)
	}
	var coeffs []float64
	for _, row := range rows {
		coeffs = append(coeffs, row...)
	}
	if len(coeffs) < 4 || len(coeffs) > 5 {
		return nil, errors.Errorf("%s: expected 4 or 5 distortion coefficients, got %d", path, len(coeffs))
	}
	return coeffs, nil
}

// ReadCSVFloats parses comma separated rows of floats, as written by numpy.savetxt(delimiter=',').
// Blank lines and lines starting with '#' are skipped.
func ReadCSVFloats(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, 0, len(records))
	for _, record := range records {
		row := make([]float64, 0, len(record))
		for _, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
