package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"

	"go.viam.com/precisionland/logging"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	reg, err := cfg.Registry()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reg.Low().ID, test.ShouldEqual, 72)
	test.That(t, reg.High().ID, test.ShouldEqual, 129)

	sel, err := cfg.Selector(logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sel.Margin(), test.ShouldEqual, 1)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"hysteresis_margin_m": 0.5,
		"camera": {"calibration_dir": "cal", "width_px": 1280, "height_px": 720, "fov_tolerance_deg": 2,
			"images": {"dir": "frames", "frame_rate_hz": 30}},
		"detector": {"replay_file": "run1.jsonl"},
		"fusion": {"window_size": 8, "transition_frames": 15, "miss_threshold": 5},
		"autopilot": {"connection": "/dev/ttyACM0:115200"},
		"loop": {"rate_hz": 20},
		"log": {"level": "debug", "file": {"path": "landing.log", "max_size_mb": 10}}
	}`)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.HysteresisMarginM, test.ShouldEqual, 0.5)
	test.That(t, cfg.Camera.Width, test.ShouldEqual, 1280)
	test.That(t, cfg.Camera.FOVToleranceRad(), test.ShouldAlmostEqual, 0.0349, 1e-4)
	test.That(t, cfg.Camera.Images.FrameRate, test.ShouldEqual, 30)
	test.That(t, cfg.Fusion.WindowSize, test.ShouldEqual, 8)
	test.That(t, cfg.Autopilot.Connection, test.ShouldEqual, "/dev/ttyACM0:115200")
	// unspecified fields keep their defaults
	test.That(t, cfg.Autopilot.SystemID, test.ShouldEqual, 191)
	test.That(t, len(cfg.Markers), test.ShouldEqual, 2)
	test.That(t, cfg.PrecisionLanding.LandSpeedCMS, test.ShouldEqual, 20)
	test.That(t, cfg.Log.File.MaxSizeMB, test.ShouldEqual, 10)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeFile(t, dir, "garbage.json", "{"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeFile(t, dir, "unknown.json", `{"markerz": []}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeFile(t, dir, "bad.json", `{
		"markers": [{"id": 72, "side_length_cm": 19, "altitude_threshold_m": 4}],
		"fusion": {"window_size": 0},
		"loop": {"rate_hz": -1},
		"log": {"level": "loud"}
	}`))
	test.That(t, err, test.ShouldNotBeNil)
	errs := multierr.Errors(err)
	test.That(t, len(errs), test.ShouldEqual, 4)
	test.That(t, err.Error(), test.ShouldContainSubstring, "markers")
	test.That(t, err.Error(), test.ShouldContainSubstring, "window_size")
}

func TestValidateHysteresis(t *testing.T) {
	cfg := Default()
	cfg.HysteresisMarginM = 3.5
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "hysteresis_margin_m")
}

func TestCameraValidate(t *testing.T) {
	cfg := Default().Camera
	cfg.IntrinsicsFile = "intrinsics.json"
	test.That(t, cfg.Validate("camera"), test.ShouldNotBeNil)

	cfg = Default().Camera
	cfg.Width = 0
	test.That(t, cfg.Validate("camera"), test.ShouldNotBeNil)

	cfg = Default().Camera
	cfg.FOVToleranceDeg = -1
	test.That(t, cfg.Validate("camera"), test.ShouldNotBeNil)
}

func TestCameraModel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cameraMatrix.txt", "530.8,0,320\n0,530.8,240\n0,0,1\n")
	writeFile(t, dir, "cameraDistortion.txt", "0.1,-0.2,0.001,0.002,0.05\n")

	cfg := Default().Camera
	cfg.CalibrationDir = dir
	model, err := cfg.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Fx, test.ShouldEqual, 530.8)
	test.That(t, model.Width, test.ShouldEqual, 640)
	test.That(t, model.HorizontalFOVDeg, test.ShouldEqual, 62.2)
	test.That(t, model.Distortion, test.ShouldNotBeNil)

	intrinsics := writeFile(t, dir, "intrinsics.json", strings.TrimSpace(`
{"width_px": 320, "height_px": 240, "fx": 265.4, "fy": 265.4, "ppx": 160, "ppy": 120}`))
	cfg = Default().Camera
	cfg.CalibrationDir = ""
	cfg.IntrinsicsFile = intrinsics
	model, err = cfg.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Fx, test.ShouldEqual, 265.4)
	test.That(t, model.Width, test.ShouldEqual, 320)
	test.That(t, model.HorizontalFOVDeg, test.ShouldEqual, 62.2)
	test.That(t, model.Distortion, test.ShouldBeNil)

	cfg.IntrinsicsFile = filepath.Join(dir, "missing.json")
	_, err = cfg.Model()
	test.That(t, err, test.ShouldNotBeNil)
}
