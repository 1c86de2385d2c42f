package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

var (
	t0      = time.Date(2025, time.May, 18, 12, 0, 0, 0, time.UTC)
	station = model.GroundStation{Name: "home", Latitude: 52.5, Longitude: 13.4, Active: true}
	pass    = model.PassWindow{
		ObjectID:     "ISS",
		Start:        t0.Add(10 * time.Second),
		Culmination:  t0.Add(40 * time.Second),
		End:          t0.Add(70 * time.Second),
		MaxElevation: 45,
	}
)

// fakePositions returns positions from fn, or queued errors first.
type fakePositions struct {
	fn    func(at time.Time) model.Position
	errs  []error
	calls int
}

func (f *fakePositions) Position(_ context.Context, _ string, _ model.GroundStation, at time.Time) (model.Position, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return model.Position{}, err
		}
	}
	return f.fn(at), nil
}

func constant(az, el float64) func(time.Time) model.Position {
	return func(at time.Time) model.Position {
		return model.Position{Azimuth: az, Elevation: el, At: at}
	}
}

type fakeActuator struct {
	moves []model.Command
	errs  []error
}

func (a *fakeActuator) Move(_ context.Context, az, el float64) error {
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return err
		}
	}
	a.moves = append(a.moves, model.Command{Azimuth: az, Elevation: el})
	return nil
}

type fakeRecorder struct {
	commands int
	failures map[string]int
}

func (r *fakeRecorder) CommandSent() { r.commands++ }
func (r *fakeRecorder) TickFailed(source string) {
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[source]++
}

func startedTracker(t *testing.T, pos *fakePositions, act *fakeActuator) (*Tracker, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	tr := New(station, pos, act, timectrl.NewManualClock(t0), Config{}, nil, rec)
	if err := tr.Start(context.Background(), pass); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.Phase() != model.PhaseTracking {
		t.Fatalf("phase after Start = %s, want tracking", tr.Phase())
	}
	return tr, rec
}

func TestStartPrepositionsAtRisePoint(t *testing.T) {
	var asked time.Time
	pos := &fakePositions{fn: func(at time.Time) model.Position {
		asked = at
		return model.Position{Azimuth: 200, Elevation: 0}
	}}
	act := &fakeActuator{}
	tr, _ := startedTracker(t, pos, act)

	if !asked.Equal(pass.Start) {
		t.Fatalf("Start asked position at %v, want %v", asked, pass.Start)
	}
	if len(act.moves) != 1 || act.moves[0] != (model.Command{Azimuth: 200, Elevation: 0}) {
		t.Fatalf("moves = %v", act.moves)
	}
	if s := tr.Session(); s.ID == "" || !s.HasLastCommand || s.CommandsSent != 1 {
		t.Fatalf("session = %+v", s)
	}
	if err := tr.Start(context.Background(), pass); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("second Start() = %v, want ErrNotIdle", err)
	}
}

func TestStartBelowHorizonDoesNotCommand(t *testing.T) {
	pos := &fakePositions{fn: constant(120, -5)}
	act := &fakeActuator{}
	tr := New(station, pos, act, timectrl.NewManualClock(pass.Start), Config{}, nil, nil)

	if err := tr.Start(context.Background(), pass); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	s := tr.Session()
	if s.Phase != model.PhaseCompleted || s.Reason != model.ReasonBelowHorizon {
		t.Fatalf("session = %s/%s, want completed/below_horizon", s.Phase, s.Reason)
	}
	if len(act.moves) != 0 || s.CommandsSent != 0 {
		t.Fatalf("actuator commanded below the horizon: %v", act.moves)
	}
	if done, _ := tr.Tick(context.Background(), pass.Start.Add(time.Second)); !done {
		t.Fatalf("Tick on a completed session should report done")
	}
}

func TestTickAfterWindowEndCompletes(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 30)}
	act := &fakeActuator{}
	tr, _ := startedTracker(t, pos, act)
	moves := len(act.moves)

	done, err := tr.Tick(context.Background(), pass.End.Add(time.Second))
	if err != nil || !done {
		t.Fatalf("Tick(end+1s) = %v, %v; want done", done, err)
	}
	s := tr.Session()
	if s.Phase != model.PhaseCompleted || s.Reason != model.ReasonWindowEnded {
		t.Fatalf("session = %s/%s, want completed/window_ended", s.Phase, s.Reason)
	}

	done, err = tr.Tick(context.Background(), pass.End.Add(2*time.Second))
	if err != nil || !done {
		t.Fatalf("Tick after completion = %v, %v", done, err)
	}
	if len(act.moves) != moves {
		t.Fatalf("actuator moved after the window ended")
	}
}

func TestTickBelowHorizonEndsEarly(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, _ := startedTracker(t, pos, act)
	moves := len(act.moves)

	pos.fn = constant(100, -5)
	done, err := tr.Tick(context.Background(), pass.Start.Add(20*time.Second))
	if err != nil || !done {
		t.Fatalf("Tick() = %v, %v; want done", done, err)
	}
	if s := tr.Session(); s.Phase != model.PhaseCompleted || s.Reason != model.ReasonBelowHorizon {
		t.Fatalf("session = %s/%s, want completed/below_horizon", s.Phase, s.Reason)
	}
	if len(act.moves) != moves {
		t.Fatalf("actuator called for a below-horizon position")
	}
}

func TestTwoConsecutivePositionFailuresFail(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, rec := startedTracker(t, pos, act)

	pos.errs = []error{model.ErrCompute, model.ErrCompute}
	done, err := tr.Tick(context.Background(), pass.Start.Add(5*time.Second))
	if !done || !errors.Is(err, model.ErrCompute) {
		t.Fatalf("Tick() = %v, %v; want done with ErrCompute", done, err)
	}
	s := tr.Session()
	if s.Phase != model.PhaseFailed || s.Reason != model.ReasonFailed {
		t.Fatalf("session = %s/%s, want failed", s.Phase, s.Reason)
	}
	if rec.failures[SourcePosition] != 2 {
		t.Fatalf("position failures = %d, want 2", rec.failures[SourcePosition])
	}
}

func TestSinglePositionFailureIsRetried(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, _ := startedTracker(t, pos, act)

	pos.fn = constant(150, 30)
	pos.errs = []error{model.ErrStaleData}
	done, err := tr.Tick(context.Background(), pass.Start.Add(5*time.Second))
	if done || err != nil {
		t.Fatalf("Tick() = %v, %v; want tracking to continue", done, err)
	}
	if tr.Phase() != model.PhaseTracking {
		t.Fatalf("phase = %s", tr.Phase())
	}
	if last := act.moves[len(act.moves)-1]; last != (model.Command{Azimuth: 150, Elevation: 30}) {
		t.Fatalf("last move = %v", last)
	}
}

func TestActuatorFailures(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, rec := startedTracker(t, pos, act)

	pos.fn = constant(120, 25)
	act.errs = []error{model.ErrActuatorFault}
	if done, err := tr.Tick(context.Background(), pass.Start.Add(time.Second)); done || err != nil {
		t.Fatalf("single actuator failure: %v, %v", done, err)
	}

	pos.fn = constant(140, 30)
	act.errs = []error{model.ErrActuatorFault, model.ErrActuatorFault}
	done, err := tr.Tick(context.Background(), pass.Start.Add(2*time.Second))
	if !done || !errors.Is(err, model.ErrActuatorFault) {
		t.Fatalf("Tick() = %v, %v; want failure", done, err)
	}
	if tr.Phase() != model.PhaseFailed {
		t.Fatalf("phase = %s, want failed", tr.Phase())
	}
	if rec.failures[SourceActuator] != 3 {
		t.Fatalf("actuator failures = %d, want 3", rec.failures[SourceActuator])
	}
}

func TestMinMoveSuppressesSmallCommands(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, rec := startedTracker(t, pos, act)

	pos.fn = constant(100.2, 20.1)
	tr.Tick(context.Background(), pass.Start.Add(time.Second))
	if len(act.moves) != 1 {
		t.Fatalf("sub-threshold move was sent: %v", act.moves)
	}

	pos.fn = constant(100.6, 20.1)
	tr.Tick(context.Background(), pass.Start.Add(2*time.Second))
	if len(act.moves) != 2 {
		t.Fatalf("move above threshold was not sent: %v", act.moves)
	}
	if rec.commands != 2 || tr.Session().CommandsSent != 2 {
		t.Fatalf("commands = %d/%d, want 2", rec.commands, tr.Session().CommandsSent)
	}
}

func TestCommandsAreClampedToLimits(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	limits := model.Limits{MinAzimuth: 0, MaxAzimuth: 360, MinElevation: 0, MaxElevation: 60}
	tr := New(station, pos, act, timectrl.NewManualClock(t0), Config{Limits: limits}, nil, nil)
	if err := tr.Start(context.Background(), pass); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pos.fn = constant(100, 80)
	tr.Tick(context.Background(), pass.Start.Add(time.Second))
	if last := act.moves[len(act.moves)-1]; last.Elevation != 60 {
		t.Fatalf("elevation = %v, want clamped to 60", last.Elevation)
	}
}

func TestInterruptLeavesActuator(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	act := &fakeActuator{}
	tr, _ := startedTracker(t, pos, act)
	moves := len(act.moves)

	tr.Interrupt()
	if s := tr.Session(); s.Phase != model.PhaseCompleted || s.Reason != model.ReasonInterrupted {
		t.Fatalf("session = %s/%s, want completed/interrupted", s.Phase, s.Reason)
	}
	if len(act.moves) != moves {
		t.Fatalf("Interrupt moved the actuator")
	}
	tr.Shutdown()
	if tr.Session().Reason != model.ReasonInterrupted {
		t.Fatalf("Shutdown changed a finished session")
	}
}

func TestAcquisitionFailure(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20), errs: []error{model.ErrStaleData, model.ErrStaleData}}
	tr := New(station, pos, &fakeActuator{}, timectrl.NewManualClock(t0), Config{}, nil, nil)

	err := tr.Start(context.Background(), pass)
	if !errors.Is(err, model.ErrStaleData) {
		t.Fatalf("Start() = %v, want ErrStaleData", err)
	}
	if tr.Phase() != model.PhaseFailed {
		t.Fatalf("phase = %s, want failed", tr.Phase())
	}
	if done, _ := tr.Tick(context.Background(), pass.Start); !done {
		t.Fatalf("Tick on a failed session should report done")
	}
}

func TestTickCancelledContext(t *testing.T) {
	pos := &fakePositions{fn: constant(100, 20)}
	tr, _ := startedTracker(t, pos, &fakeActuator{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := tr.Tick(ctx, pass.Start.Add(time.Second))
	if done || !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick() = %v, %v; want context.Canceled", done, err)
	}
	if tr.Phase() != model.PhaseTracking {
		t.Fatalf("cancellation changed the phase to %s", tr.Phase())
	}
}
