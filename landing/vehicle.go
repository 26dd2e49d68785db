package landing

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/report"
)

// Vehicle is what the landing loop needs from the autopilot.
type Vehicle interface {
	// Altitude returns meters above home.
	Altitude() (float64, error)
	SendLandingTarget(ctx context.Context, target report.LandingTarget) error
	SetParameter(ctx context.Context, name string, value float32) error
	// Done is closed when the landing is over or the vehicle can no longer be reached.
	Done() <-chan struct{}
}

// PrecisionLandingParams are the autopilot parameters written once before the loop starts.
type PrecisionLandingParams struct {
	Enabled       float32 `json:"plnd_enabled"`
	Type          float32 `json:"plnd_type"`
	EstimatorType float32 `json:"plnd_est_type"`
	// LandSpeedCMS is the final descent rate in cm/s.
	LandSpeedCMS float32 `json:"land_speed_cms"`
}

// DefaultPrecisionLandingParams enables companion-computer precision landing using the raw
// sensor estimator and a slow final descent.
func DefaultPrecisionLandingParams() PrecisionLandingParams {
	return PrecisionLandingParams{
		Enabled:       1,
		Type:          1,
		EstimatorType: 0,
		LandSpeedCMS:  20,
	}
}

// Validate ensures all parts of the config are valid.
func (p *PrecisionLandingParams) Validate(path string) error {
	if p.LandSpeedCMS <= 0 {
		return errors.Errorf("%s: land_speed_cms must be positive, got %v", path, p.LandSpeedCMS)
	}
	return nil
}

type parameter struct {
	name  string
	value float32
}

func (p PrecisionLandingParams) parameters() []parameter {
	return []parameter{
		{"PLND_ENABLED", p.Enabled},
		{"PLND_TYPE", p.Type},
		{"PLND_EST_TYPE", p.EstimatorType},
		{"LAND_SPEED", p.LandSpeedCMS},
	}
}

// ConfigurePrecisionLanding writes params to the vehicle in order, stopping at the first failure.
func ConfigurePrecisionLanding(ctx context.Context, v Vehicle, params PrecisionLandingParams, logger logging.Logger) error {
	for _, p := range params.parameters() {
		if err := v.SetParameter(ctx, p.name, p.value); err != nil {
			return errors.Wrapf(err, "cannot set %s", p.name)
		}
		logger.Debugw("precision landing parameter written", "name", p.name, "value", p.value)
	}
	logger.Info("precision landing configured")
	return nil
}
