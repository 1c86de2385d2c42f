package actuator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// DefaultElevationOffset is subtracted from elevation so the dish rests
// level at 0°.
const DefaultElevationOffset = 5.0

// ServoFrequencyHz is the PWM frequency of hobby servos.
const ServoFrequencyHz = 50

// DutyWriter sets the duty cycle, in percent, of one PWM channel.
type DutyWriter interface {
	SetDuty(ctx context.Context, percent float64) error
	Close() error
}

// ServoConfig tunes the servo mapping.
type ServoConfig struct {
	ElevationOffset float64
}

// Servo drives a pan/tilt rig built from two 180° hobby servos.
type Servo struct {
	az, el DutyWriter
	offset float64
	log    logging.Logger

	mu sync.Mutex
}

// NewServo constructs a Servo over the azimuth and elevation channels.
func NewServo(az, el DutyWriter, cfg ServoConfig, log logging.Logger) *Servo {
	if cfg.ElevationOffset <= 0 {
		cfg.ElevationOffset = DefaultElevationOffset
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Servo{az: az, el: el, offset: cfg.ElevationOffset, log: log}
}

// ServoAngles maps a pointing direction onto the two servo angles. The pan
// servo only covers 0..180°, so the western half of the sky is reached by
// turning the other way and tilting past zenith.
func ServoAngles(azimuth, elevation, offset float64) (pan, tilt float64) {
	pan, tilt = azimuth, elevation
	if pan > 180 {
		pan -= 180
		tilt = 180 - tilt
	}
	tilt = math.Max(0, tilt-offset)
	return clampServo(pan), clampServo(tilt)
}

// DutyCycle converts a servo angle to a duty cycle in percent at 50 Hz:
// 2% at 0° up to 12% at 180°.
func DutyCycle(angle float64) float64 {
	return angle/18 + 2
}

// Move implements the tracker's actuator.
func (s *Servo) Move(ctx context.Context, azimuth, elevation float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pan, tilt := ServoAngles(azimuth, elevation, s.offset)
	if err := s.az.SetDuty(ctx, DutyCycle(pan)); err != nil {
		return fmt.Errorf("%w: azimuth channel: %w", model.ErrActuatorFault, err)
	}
	if err := s.el.SetDuty(ctx, DutyCycle(tilt)); err != nil {
		return fmt.Errorf("%w: elevation channel: %w", model.ErrActuatorFault, err)
	}
	s.log.Debug(ctx, "servo moved",
		logging.Float64("azimuth", azimuth),
		logging.Float64("elevation", elevation),
		logging.Float64("pan", pan),
		logging.Float64("tilt", tilt),
	)
	return nil
}

// Close releases both channels.
func (s *Servo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.az.Close(), s.el.Close())
}

func clampServo(a float64) float64 {
	return math.Min(180, math.Max(0, a))
}
