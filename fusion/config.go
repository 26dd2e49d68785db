package fusion

import (
	"math"

	"github.com/pkg/errors"
)

// Config tunes the smoothing window, the marker handoff, and loss detection.
type Config struct {
	// WindowSize is how many recent estimates are kept.
	WindowSize int `json:"window_size"`
	// TransitionFrames is how many frames a marker handoff is blended over. Zero snaps.
	TransitionFrames int `json:"transition_frames"`
	// MissThreshold is how many consecutive misses are bridged by holding the last output.
	MissThreshold int `json:"miss_threshold"`
	// OutlierRatio rejects an estimate whose distance is further than ratio*median from the
	// window median. Zero disables the gate.
	OutlierRatio float64 `json:"outlier_ratio,omitempty"`
}

// DefaultConfig returns the tuning used when none is configured.
func DefaultConfig() Config {
	return Config{
		WindowSize:       5,
		TransitionFrames: 10,
		MissThreshold:    5,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.WindowSize < 1 {
		return errors.Errorf("%s: window_size must be at least 1, got %d", path, cfg.WindowSize)
	}
	if cfg.TransitionFrames < 0 {
		return errors.Errorf("%s: transition_frames must be non-negative, got %d", path, cfg.TransitionFrames)
	}
	if cfg.MissThreshold < 0 {
		return errors.Errorf("%s: miss_threshold must be non-negative, got %d", path, cfg.MissThreshold)
	}
	if cfg.OutlierRatio < 0 || math.IsNaN(cfg.OutlierRatio) || math.IsInf(cfg.OutlierRatio, 0) {
		return errors.Errorf("%s: outlier_ratio must be a non-negative number, got %v", path, cfg.OutlierRatio)
	}
	return nil
}
