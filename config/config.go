// Package config defines the precision landing configuration file.
package config

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/precisionland/autopilot"
	"go.viam.com/precisionland/camera"
	"go.viam.com/precisionland/fusion"
	"go.viam.com/precisionland/landing"
	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/marker"
	"go.viam.com/precisionland/rimage/transform"
)

// Config is the whole configuration of a landing session.
type Config struct {
	Markers           []marker.Spec `json:"markers"`
	HysteresisMarginM float64       `json:"hysteresis_margin_m"`

	Camera           CameraConfig                   `json:"camera"`
	Detector         DetectorConfig                 `json:"detector"`
	Fusion           fusion.Config                  `json:"fusion"`
	Autopilot        autopilot.Config               `json:"autopilot"`
	PrecisionLanding landing.PrecisionLandingParams `json:"precision_landing"`
	Loop             LoopConfig                     `json:"loop"`
	Metrics          MetricsConfig                  `json:"metrics"`
	Log              LogConfig                      `json:"log"`
}

// CameraConfig describes the camera and where its calibration lives.
type CameraConfig struct {
	// CalibrationDir holds cameraMatrix.txt and cameraDistortion.txt.
	CalibrationDir string `json:"calibration_dir,omitempty"`
	// IntrinsicsFile is a JSON intrinsics file, used instead of CalibrationDir for a lens without
	// distortion.
	IntrinsicsFile string `json:"intrinsics_file,omitempty"`

	Width            int     `json:"width_px"`
	Height           int     `json:"height_px"`
	HorizontalFOVDeg float64 `json:"horizontal_fov_deg,omitempty"`
	VerticalFOVDeg   float64 `json:"vertical_fov_deg,omitempty"`
	// FOVToleranceDeg widens the field of view before an estimate is considered impossible.
	FOVToleranceDeg float64 `json:"fov_tolerance_deg"`

	Images camera.ImageDirConfig `json:"images"`
}

// Validate ensures all parts of the config are valid.
func (cfg *CameraConfig) Validate(path string) error {
	if (cfg.CalibrationDir == "") == (cfg.IntrinsicsFile == "") {
		return errors.Errorf("%s: exactly one of calibration_dir and intrinsics_file is required", path)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.Errorf("%s: resolution must be positive, got %dx%d", path, cfg.Width, cfg.Height)
	}
	if cfg.HorizontalFOVDeg < 0 || cfg.HorizontalFOVDeg >= 180 || cfg.VerticalFOVDeg < 0 || cfg.VerticalFOVDeg >= 180 {
		return errors.Errorf("%s: field of view must be in [0, 180) degrees", path)
	}
	if cfg.FOVToleranceDeg < 0 {
		return errors.Errorf("%s: fov_tolerance_deg must be non-negative", path)
	}
	return cfg.Images.Validate(path + ".images")
}

// Model loads the calibration and applies the configured field of view. The configured resolution
// is used when the calibration does not carry one.
func (cfg *CameraConfig) Model() (*transform.PinholeCameraModel, error) {
	if cfg.IntrinsicsFile != "" {
		intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(cfg.IntrinsicsFile)
		if err != nil {
			return nil, err
		}
		if intrinsics.Width == 0 && intrinsics.Height == 0 {
			intrinsics.Width, intrinsics.Height = cfg.Width, cfg.Height
		}
		cfg.applyFOV(intrinsics)
		return transform.NewPinholeCameraModel(intrinsics, nil)
	}
	model, err := transform.LoadCalibration(cfg.CalibrationDir, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	cfg.applyFOV(model.PinholeCameraIntrinsics)
	return model, model.CheckValid()
}

func (cfg *CameraConfig) applyFOV(intrinsics *transform.PinholeCameraIntrinsics) {
	if cfg.HorizontalFOVDeg > 0 {
		intrinsics.HorizontalFOVDeg = cfg.HorizontalFOVDeg
	}
	if cfg.VerticalFOVDeg > 0 {
		intrinsics.VerticalFOVDeg = cfg.VerticalFOVDeg
	}
}

// FOVToleranceRad returns the field of view tolerance in radians.
func (cfg *CameraConfig) FOVToleranceRad() float64 {
	return cfg.FOVToleranceDeg * math.Pi / 180
}

// DetectorConfig selects the marker detector.
type DetectorConfig struct {
	// ReplayFile is a JSON lines recording of detections keyed by frame sequence.
	ReplayFile string `json:"replay_file"`
}

// Validate ensures all parts of the config are valid.
func (cfg *DetectorConfig) Validate(path string) error {
	if cfg.ReplayFile == "" {
		return errors.Errorf("%s: replay_file is required", path)
	}
	return nil
}

// LoopConfig paces the landing loop.
type LoopConfig struct {
	// RateHz caps the loop rate. Zero runs as fast as frames arrive.
	RateHz float64 `json:"rate_hz"`
}

// MetricsConfig exposes the session counters over HTTP.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set.
	ListenAddr string `json:"listen_addr,omitempty"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string              `json:"level,omitempty"`
	File  *logging.FileConfig `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *LogConfig) Validate(path string) error {
	if cfg.Level != "" {
		if _, err := logging.LevelFromString(cfg.Level); err != nil {
			return errors.Wrap(err, path)
		}
	}
	if cfg.File != nil && cfg.File.Path == "" {
		return errors.Errorf("%s.file: path is required", path)
	}
	return nil
}

// Default returns the configuration for the two stock markers: id 72 (19cm) below 4m and id 129
// (40cm) above.
func Default() *Config {
	return &Config{
		Markers: []marker.Spec{
			{ID: 72, SideLengthCM: 19, AltitudeThresholdM: 4},
			{ID: 129, SideLengthCM: 40, AltitudeThresholdM: 7},
		},
		HysteresisMarginM: 1,
		Camera: CameraConfig{
			CalibrationDir:   "calibration",
			Width:            640,
			Height:           480,
			HorizontalFOVDeg: 62.2,
			VerticalFOVDeg:   48.8,
			FOVToleranceDeg:  1,
			Images:           camera.ImageDirConfig{Dir: "frames", Width: 640, Height: 480},
		},
		Detector:         DetectorConfig{ReplayFile: "detections.jsonl"},
		Fusion:           fusion.DefaultConfig(),
		Autopilot:        autopilot.DefaultConfig(),
		PrecisionLanding: landing.DefaultPrecisionLandingParams(),
		Log:              LogConfig{Level: "info"},
	}
}

// Read loads the file at path over the defaults and validates the result.
func Read(path string) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open config")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (cfg *Config) Validate() error {
	var err error
	if _, regErr := cfg.Registry(); regErr != nil {
		err = multierr.Append(err, errors.Wrap(regErr, "markers"))
	} else if _, selErr := cfg.Selector(logging.NewBlankLogger("validate")); selErr != nil {
		err = multierr.Append(err, errors.Wrap(selErr, "hysteresis_margin_m"))
	}
	return multierr.Combine(
		err,
		cfg.Camera.Validate("camera"),
		cfg.Detector.Validate("detector"),
		cfg.Fusion.Validate("fusion"),
		cfg.Autopilot.Validate("autopilot"),
		cfg.PrecisionLanding.Validate("precision_landing"),
		validateRate(cfg.Loop.RateHz),
		cfg.Log.Validate("log"),
	)
}

func validateRate(rate float64) error {
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return errors.Errorf("loop: rate_hz must be a non-negative number, got %v", rate)
	}
	return nil
}

// Registry builds the marker registry.
func (cfg *Config) Registry() (*marker.Registry, error) {
	return marker.NewRegistry(cfg.Markers...)
}

// Selector builds the altitude selector.
func (cfg *Config) Selector(logger logging.Logger) (*marker.Selector, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	return marker.NewSelector(reg, cfg.HysteresisMarginM, logger)
}
