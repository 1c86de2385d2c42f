package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/internal/observability"
	"github.com/signalsfoundry/passtrack/internal/scheduler"
	"github.com/signalsfoundry/passtrack/internal/tracker"
	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

const (
	DefaultRefreshInterval = time.Hour
	DefaultRefreshRetry    = time.Minute
	DefaultIdleSleep       = 60 * time.Second
	DefaultCadence         = time.Second
)

// PassScheduler is the part of the scheduler the supervisor drives.
type PassScheduler interface {
	Refresh(ctx context.Context, objectIDs []string, station model.GroundStation, horizon time.Duration) error
	Next() (model.PassWindow, bool)
	WaitUntil(ctx context.Context, w model.PassWindow) error
	Complete(w model.PassWindow)
	Preempting(active model.PassWindow, now time.Time) (model.PassWindow, bool)
	Changed() <-chan struct{}
}

// ElementSyncer re-ingests element sets before a catalog refresh.
type ElementSyncer interface {
	Sync(ctx context.Context) error
}

// Observer is told about every tracking session.
type Observer interface {
	PassStarted(ctx context.Context, s model.TrackingSession)
	PassEnded(ctx context.Context, s model.TrackingSession)
}

// Recorder receives supervisor and tracker metrics.
type Recorder interface {
	tracker.Recorder
	PassEnded(reason model.Reason)
	TickObserved(duration, lag time.Duration)
	Preempted()
}

// Config tunes the supervisor loop.
type Config struct {
	Station   model.GroundStation
	ObjectIDs []string
	Horizon   time.Duration

	RefreshInterval time.Duration
	RefreshRetry    time.Duration
	IdleSleep       time.Duration
	Cadence         time.Duration

	// BackgroundRefresh runs refreshes on their own goroutine.
	BackgroundRefresh bool

	Tracker tracker.Config
}

// ApplyDefaults fills unset durations.
func (c *Config) ApplyDefaults() {
	if c.Horizon <= 0 {
		c.Horizon = scheduler.DefaultHorizon
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.RefreshRetry <= 0 {
		c.RefreshRetry = DefaultRefreshRetry
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.Cadence <= 0 {
		c.Cadence = DefaultCadence
	}
	c.Tracker.ApplyDefaults()
}

// Supervisor runs the scheduling and tracking loop for one station.
type Supervisor struct {
	cfg       Config
	sched     PassScheduler
	positions tracker.PositionSource
	actuator  tracker.Actuator
	clock     timectrl.Clock

	log       logging.Logger
	metrics   Recorder
	syncer    ElementSyncer
	objects   func() []string
	observers []Observer
	tracer    trace.Tracer

	mu          sync.Mutex
	nextRefresh time.Time
	retry       backoff.BackOff
	refreshing  atomic.Bool
	wg          sync.WaitGroup
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithSyncer re-ingests element sets before every refresh.
func WithSyncer(sy ElementSyncer) Option {
	return func(s *Supervisor) { s.syncer = sy }
}

// WithObjectSource resolves the tracked object IDs at every refresh instead
// of using Config.ObjectIDs.
func WithObjectSource(fn func() []string) Option {
	return func(s *Supervisor) { s.objects = fn }
}

// WithObserver adds a session observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithTracer sets the tracer used for pass and refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Supervisor.
func New(cfg Config, sched PassScheduler, positions tracker.PositionSource, actuator tracker.Actuator, clock timectrl.Clock, opts ...Option) *Supervisor {
	cfg.ApplyDefaults()
	s := &Supervisor{
		cfg:       cfg,
		sched:     sched,
		positions: positions,
		actuator:  actuator,
		clock:     clock,
		log:       logging.Noop(),
		metrics:   noopRecorder{},
		tracer:    observability.Tracer(),
		retry:     backoff.NewConstantBackOff(cfg.RefreshRetry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the configuration. It returns a *model.ConfigurationError.
func (s *Supervisor) Validate() error {
	if err := s.cfg.Station.Validate(); err != nil {
		return err
	}
	if !s.cfg.Station.Active {
		return &model.ConfigurationError{Field: "station.active", Reason: "station is not active"}
	}
	if len(s.objectIDs()) == 0 {
		return &model.ConfigurationError{Field: "objects", Reason: "no objects to track"}
	}
	l := s.cfg.Tracker.Limits
	if l.MinAzimuth >= l.MaxAzimuth || l.MinElevation >= l.MaxElevation {
		return &model.ConfigurationError{Field: "actuator.limits", Reason: "minimum must be below maximum"}
	}
	return nil
}

// Run loops until ctx is cancelled: refresh when due, pick the next pass,
// wait for it and track it. It returns a configuration error before any
// pass is tracked and nil on shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.log.Info(ctx, "supervisor started",
		logging.String("station", s.cfg.Station.Name),
		logging.Duration("cadence", s.cfg.Cadence),
		logging.Duration("horizon", s.cfg.Horizon),
	)
	defer s.wg.Wait()

	for {
		if ctx.Err() != nil {
			s.log.Info(ctx, "supervisor stopped")
			return nil
		}
		s.refreshIfDue(ctx)

		changed := s.sched.Changed()
		w, ok := s.sched.Next()
		if !ok {
			s.idle(ctx, changed)
			continue
		}

		// Don't sleep through a refresh: the new queue may pick another pass.
		if due := s.refreshDue(); w.Start.After(due) && s.clock.Now().Before(due) {
			s.log.Debug(ctx, "waiting for refresh before next pass",
				logging.String("object_id", w.ObjectID),
				logging.Time("pass_start", w.Start),
				logging.Time("refresh_at", due),
			)
			timectrl.Sleep(ctx, s.clock, due.Sub(s.clock.Now()))
			continue
		}

		s.log.Info(ctx, "next pass selected",
			logging.String("object_id", w.ObjectID),
			logging.Time("start", w.Start),
			logging.Time("end", w.End),
			logging.Float64("max_elevation", w.MaxElevation),
		)
		if err := s.sched.WaitUntil(ctx, w); err != nil {
			if errors.Is(err, scheduler.ErrSuperseded) {
				s.log.Info(ctx, "pass superseded, reselecting", logging.String("object_id", w.ObjectID))
			}
			continue
		}
		s.track(ctx, w)
	}
}

// idle sleeps until the next refresh or the idle interval, waking early
// when the scheduler publishes a new queue.
func (s *Supervisor) idle(ctx context.Context, changed <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-changed:
	case <-s.clock.After(s.idleWait()):
	}
}

func (s *Supervisor) idleWait() time.Duration {
	wait := s.cfg.IdleSleep
	if until := s.refreshDue().Sub(s.clock.Now()); until > 0 && until < wait {
		wait = until
	}
	return wait
}

// track runs one pass to completion on the cadence grid.
func (s *Supervisor) track(ctx context.Context, w model.PassWindow) {
	tr := tracker.New(s.cfg.Station, s.positions, s.actuator, s.clock, s.cfg.Tracker, s.log, s.metrics)
	ctx, span := observability.StartPassSpan(ctx, s.tracer, w, tr.ID())
	sctx, log := logging.WithSessionLogger(ctx, s.log, tr.ID(), w.ObjectID)

	defer func() {
		s.sched.Complete(w)
		session := tr.Session()
		s.metrics.PassEnded(session.Reason)
		for _, o := range s.observers {
			o.PassEnded(sctx, session)
		}
		observability.EndPassSpan(span, session)
		log.Info(sctx, "pass ended",
			logging.String("phase", session.Phase.String()),
			logging.String("reason", string(session.Reason)),
			logging.Int("commands", session.CommandsSent),
		)
	}()

	if err := tr.Start(sctx, w); err != nil {
		if ctx.Err() != nil {
			tr.Shutdown()
		}
		return
	}
	if tr.Phase().Terminal() {
		return
	}
	for _, o := range s.observers {
		o.PassStarted(sctx, tr.Session())
	}

	cadence := s.cfg.Cadence
	slot := s.clock.Now()
	for {
		now := s.clock.Now()
		if lag := now.Sub(slot); lag >= cadence {
			missed := lag / cadence
			slot = slot.Add(missed * cadence)
			log.Warn(sctx, "tracking loop behind, skipping ticks",
				logging.Int("skipped", int(missed)),
				logging.Duration("lag", lag),
			)
		}

		if other, ok := s.sched.Preempting(w, now); ok {
			log.Info(sctx, "pass pre-empted",
				logging.String("by_object", other.ObjectID),
				logging.Float64("by_max_elevation", other.MaxElevation),
			)
			tr.Interrupt()
			s.metrics.Preempted()
			return
		}

		began := time.Now()
		done, err := tr.Tick(sctx, now)
		s.metrics.TickObserved(time.Since(began), now.Sub(slot))
		if err != nil && ctx.Err() != nil {
			tr.Shutdown()
			return
		}
		if done {
			return
		}

		if s.cfg.BackgroundRefresh {
			s.refreshIfDue(ctx)
		}

		slot = slot.Add(cadence)
		if err := timectrl.Sleep(ctx, s.clock, slot.Sub(s.clock.Now())); err != nil {
			tr.Shutdown()
			return
		}
	}
}

func (s *Supervisor) refreshDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRefresh
}

func (s *Supervisor) refreshIfDue(ctx context.Context) {
	if s.clock.Now().Before(s.refreshDue()) {
		return
	}
	if !s.cfg.BackgroundRefresh {
		s.refresh(ctx)
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.refreshing.Store(false)
		s.refresh(ctx)
	}()
}

// refresh re-ingests element sets, rebuilds the pass queue and schedules
// the next refresh.
func (s *Supervisor) refresh(ctx context.Context) {
	ids := s.objectIDs()
	ctx, span := observability.StartRefreshSpan(ctx, s.tracer, len(ids))

	if s.syncer != nil {
		if err := s.syncer.Sync(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn(ctx, "element sync failed, using cached element sets", logging.Err(err))
		}
	}

	err := s.sched.Refresh(ctx, ids, s.cfg.Station, s.cfg.Horizon)
	observability.EndSpan(span, err)
	if ctx.Err() != nil {
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		wait := s.retry.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.RefreshRetry
		}
		s.nextRefresh = now.Add(wait)
		s.log.Warn(ctx, "catalog refresh failed",
			logging.Err(err),
			logging.Time("retry_at", s.nextRefresh),
		)
		return
	}
	s.retry.Reset()
	s.nextRefresh = now.Add(s.cfg.RefreshInterval)
}

func (s *Supervisor) objectIDs() []string {
	if s.objects != nil {
		return s.objects()
	}
	return s.cfg.ObjectIDs
}

type noopRecorder struct{}

func (noopRecorder) CommandSent()                              {}
func (noopRecorder) TickFailed(string)                         {}
func (noopRecorder) PassEnded(model.Reason)                    {}
func (noopRecorder) TickObserved(time.Duration, time.Duration) {}
func (noopRecorder) Preempted()                                {}
