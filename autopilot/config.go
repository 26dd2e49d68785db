package autopilot

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the attribute struct for a Link.
type Config struct {
	Connection string `json:"connection"`
	// BaudRate applies to serial connections that do not name one.
	BaudRate int `json:"baud_rate,omitempty"`
	// SystemID identifies this companion computer on the MAVLink network.
	SystemID int `json:"system_id,omitempty"`
	// HeartbeatTimeoutSec bounds how long Connect waits for the autopilot.
	HeartbeatTimeoutSec float64 `json:"heartbeat_timeout_sec,omitempty"`
	// ParamTimeoutSec bounds how long a parameter write waits for each acknowledgment.
	ParamTimeoutSec float64 `json:"param_timeout_sec,omitempty"`
	ParamRetries    int     `json:"param_retries,omitempty"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Connection:          DefaultConnection,
		BaudRate:            defaultBaudRate,
		SystemID:            191,
		HeartbeatTimeoutSec: 30,
		ParamTimeoutSec:     1,
		ParamRetries:        3,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if _, err := parseConnection(cfg.Connection, cfg.BaudRate); err != nil {
		return errors.Wrapf(err, "%s.connection", path)
	}
	if cfg.SystemID < 1 || cfg.SystemID > 255 {
		return errors.Errorf("%s: system_id must be in [1, 255], got %d", path, cfg.SystemID)
	}
	if cfg.HeartbeatTimeoutSec <= 0 {
		return errors.Errorf("%s: heartbeat_timeout_sec must be positive", path)
	}
	if cfg.ParamTimeoutSec <= 0 {
		return errors.Errorf("%s: param_timeout_sec must be positive", path)
	}
	if cfg.ParamRetries < 1 {
		return errors.Errorf("%s: param_retries must be at least 1", path)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
