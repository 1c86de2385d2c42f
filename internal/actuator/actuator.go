// Package actuator drives the antenna pointing mechanism.
package actuator

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// Driver names accepted by Open.
const (
	DriverDryRun = "dryrun"
	DriverServo  = "servo"
)

// Actuator points the antenna and releases the hardware on Close.
type Actuator interface {
	Move(ctx context.Context, azimuth, elevation float64) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver string

	// Servo driver.
	PWMChip          string
	AzimuthChannel   int
	ElevationChannel int
	ElevationOffset  float64
}

// Open builds the configured actuator. An empty driver selects DryRun.
func Open(ctx context.Context, cfg Config, log logging.Logger) (Actuator, error) {
	if log == nil {
		log = logging.Noop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverDryRun:
		return NewDryRun(log), nil
	case DriverServo:
		if cfg.AzimuthChannel == cfg.ElevationChannel {
			return nil, &model.ConfigurationError{Field: "actuator.elevation_channel", Reason: "must differ from the azimuth channel"}
		}
		chip := cfg.PWMChip
		if chip == "" {
			chip = DefaultPWMChip
		}
		az, err := OpenSysfsPWM(ctx, chip, cfg.AzimuthChannel)
		if err != nil {
			return nil, err
		}
		el, err := OpenSysfsPWM(ctx, chip, cfg.ElevationChannel)
		if err != nil {
			az.Close()
			return nil, err
		}
		return NewServo(az, el, ServoConfig{ElevationOffset: cfg.ElevationOffset}, log), nil
	default:
		return nil, &model.ConfigurationError{Field: "actuator.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}
