package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

// ErrNotIdle is returned by Start on a tracker that already ran.
var ErrNotIdle = errors.New("tracker is not idle")

// DefaultMinMove is the smallest angular change, in degrees, worth sending
// to the actuator.
const DefaultMinMove = 0.5

// Failure sources reported to the Recorder.
const (
	SourcePosition = "position"
	SourceActuator = "actuator"
)

// PositionSource computes where an object appears from a station.
type PositionSource interface {
	Position(ctx context.Context, objectID string, station model.GroundStation, at time.Time) (model.Position, error)
}

// Actuator points the antenna.
type Actuator interface {
	Move(ctx context.Context, azimuth, elevation float64) error
}

// Recorder receives tracker metrics.
type Recorder interface {
	CommandSent()
	TickFailed(source string)
}

// Config tunes a Tracker.
type Config struct {
	MinMove float64
	Limits  model.Limits
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MinMove <= 0 {
		c.MinMove = DefaultMinMove
	}
	if c.Limits == (model.Limits{}) {
		c.Limits = model.DefaultLimits()
	}
}

// Tracker follows one pass: it converts positions into actuator commands
// until the pass ends, the object sets, or it is interrupted. A Tracker is
// used for a single pass and is not safe for concurrent use.
type Tracker struct {
	station   model.GroundStation
	positions PositionSource
	actuator  Actuator
	clock     timectrl.Clock
	cfg       Config
	log       logging.Logger
	metrics   Recorder

	session model.TrackingSession
}

// New constructs an idle tracker with a fresh session ID.
func New(station model.GroundStation, positions PositionSource, actuator Actuator, clock timectrl.Clock, cfg Config, log logging.Logger, metrics Recorder) *Tracker {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	id := logging.NewSessionID()
	return &Tracker{
		station:   station,
		positions: positions,
		actuator:  actuator,
		clock:     clock,
		cfg:       cfg,
		log:       log.With(logging.String("session_id", id)),
		metrics:   metrics,
		session:   model.TrackingSession{ID: id, Phase: model.PhaseIdle},
	}
}

// ID returns the session ID.
func (t *Tracker) ID() string { return t.session.ID }

// Session returns a copy of the session state.
func (t *Tracker) Session() model.TrackingSession { return t.session }

// Phase returns the current phase.
func (t *Tracker) Phase() model.Phase { return t.session.Phase }

// Start acquires w: it moves the antenna to where the object rises (or is
// now, for a pass already in progress) and enters Tracking. If the object
// is below the horizon at that point the session completes without a
// command.
func (t *Tracker) Start(ctx context.Context, w model.PassWindow) error {
	if t.session.Phase != model.PhaseIdle {
		return ErrNotIdle
	}
	now := t.clock.Now()
	t.session.Window = w
	t.session.StartedAt = now
	t.log = t.log.With(logging.String("object_id", w.ObjectID))
	t.transition(ctx, model.PhaseAcquiring)

	if err := w.Validate(); err != nil {
		t.fail(ctx, now, err)
		return err
	}

	at := w.Start
	if now.After(at) {
		at = now
	}
	pos, err := t.position(ctx, at)
	if err != nil {
		return t.abort(ctx, now, fmt.Errorf("acquire %s: %w", w.ObjectID, err))
	}
	if pos.Elevation < 0 {
		t.log.Info(ctx, "object below horizon at acquisition, ending pass",
			logging.Float64("elevation", pos.Elevation),
			logging.Time("at", at),
		)
		t.complete(ctx, now, model.ReasonBelowHorizon)
		return nil
	}
	if err := t.send(ctx, model.NewCommand(pos.Azimuth, pos.Elevation).Clamp(t.cfg.Limits)); err != nil {
		return t.abort(ctx, now, fmt.Errorf("acquire %s: %w", w.ObjectID, err))
	}

	t.transition(ctx, model.PhaseTracking)
	return nil
}

// Tick advances the session to now. It reports done once the session has
// reached a terminal phase; err is non-nil when it failed.
func (t *Tracker) Tick(ctx context.Context, now time.Time) (done bool, err error) {
	if t.session.Phase != model.PhaseTracking {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	w := t.session.Window
	if now.After(w.End) {
		t.complete(ctx, now, model.ReasonWindowEnded)
		return true, nil
	}

	pos, err := t.position(ctx, now)
	if err != nil {
		return t.tickFailed(ctx, now, err)
	}
	if pos.Elevation < 0 {
		t.log.Info(ctx, "object below horizon, ending pass early",
			logging.Float64("elevation", pos.Elevation),
			logging.Time("at", now),
		)
		t.complete(ctx, now, model.ReasonBelowHorizon)
		return true, nil
	}

	cmd := model.NewCommand(pos.Azimuth, pos.Elevation).Clamp(t.cfg.Limits)
	if t.session.HasLastCommand && cmd.Delta(t.session.LastCommand) < t.cfg.MinMove {
		return false, nil
	}
	if err := t.send(ctx, cmd); err != nil {
		return t.tickFailed(ctx, now, err)
	}
	return false, nil
}

// Interrupt ends an acquiring or tracking session, leaving the antenna
// where it is.
func (t *Tracker) Interrupt() {
	t.end(model.ReasonInterrupted)
}

// Shutdown ends an active session because the process is stopping.
func (t *Tracker) Shutdown() {
	t.end(model.ReasonShutdown)
}

func (t *Tracker) end(reason model.Reason) {
	switch t.session.Phase {
	case model.PhaseAcquiring, model.PhaseTracking:
		t.complete(context.Background(), t.clock.Now(), reason)
	}
}

// position asks the source once and retries once on failure.
func (t *Tracker) position(ctx context.Context, at time.Time) (model.Position, error) {
	pos, err := t.positions.Position(ctx, t.session.Window.ObjectID, t.station, at)
	if err == nil {
		return pos, nil
	}
	if ctx.Err() != nil {
		return model.Position{}, err
	}
	t.metrics.TickFailed(SourcePosition)
	t.session.LastError = err
	t.log.Warn(ctx, "position failed, retrying", logging.Err(err))

	pos, err = t.positions.Position(ctx, t.session.Window.ObjectID, t.station, at)
	if err != nil {
		if ctx.Err() == nil {
			t.metrics.TickFailed(SourcePosition)
		}
		return model.Position{}, fmt.Errorf("position: %w", err)
	}
	return pos, nil
}

// send moves the actuator, retrying once on failure.
func (t *Tracker) send(ctx context.Context, cmd model.Command) error {
	err := t.actuator.Move(ctx, cmd.Azimuth, cmd.Elevation)
	if err != nil && ctx.Err() == nil {
		t.metrics.TickFailed(SourceActuator)
		t.session.LastError = err
		t.log.Warn(ctx, "actuator command failed, retrying", logging.Any("command", cmd.String()), logging.Err(err))
		err = t.actuator.Move(ctx, cmd.Azimuth, cmd.Elevation)
		if err != nil && ctx.Err() == nil {
			t.metrics.TickFailed(SourceActuator)
		}
	}
	if err != nil {
		return fmt.Errorf("actuator: %w", err)
	}

	t.session.LastCommand = cmd
	t.session.HasLastCommand = true
	t.session.CommandsSent++
	t.metrics.CommandSent()
	t.log.Debug(ctx, "actuator command sent",
		logging.Float64("azimuth", cmd.Azimuth),
		logging.Float64("elevation", cmd.Elevation),
	)
	return nil
}

func (t *Tracker) tickFailed(ctx context.Context, now time.Time, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	err = fmt.Errorf("tick %s at %s: %w", t.session.Window.ObjectID, now.UTC().Format(time.RFC3339), err)
	t.fail(ctx, now, err)
	return true, err
}

// abort fails the session unless ctx was cancelled, in which case the
// session is left for Shutdown.
func (t *Tracker) abort(ctx context.Context, now time.Time, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	t.fail(ctx, now, err)
	return err
}

func (t *Tracker) fail(ctx context.Context, now time.Time, err error) {
	t.session.LastError = err
	t.session.EndedAt = now
	t.session.Reason = model.ReasonFailed
	t.log.Error(ctx, "tracking failed", logging.Err(err))
	t.transition(ctx, model.PhaseFailed)
}

func (t *Tracker) complete(ctx context.Context, now time.Time, reason model.Reason) {
	t.session.EndedAt = now
	t.session.Reason = reason
	t.transition(ctx, model.PhaseCompleted)
}

func (t *Tracker) transition(ctx context.Context, to model.Phase) {
	from := t.session.Phase
	t.session.Phase = to
	fields := []logging.Field{
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	}
	if t.session.Reason != model.ReasonNone {
		fields = append(fields, logging.String("reason", string(t.session.Reason)))
	}
	if to.Terminal() {
		fields = append(fields, logging.Int("commands", t.session.CommandsSent))
	}
	t.log.Info(ctx, "session transition", fields...)
}

type noopRecorder struct{}

func (noopRecorder) CommandSent()      {}
func (noopRecorder) TickFailed(string) {}
