package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

// ErrSuperseded is returned by WaitUntil when a newer queue makes another
// window the next one to track.
var ErrSuperseded = errors.New("pass superseded")

const (
	DefaultHorizon      = 48 * time.Hour
	DefaultFetchTimeout = 30 * time.Second
)

// Refresh outcomes reported to the Recorder.
const (
	RefreshOK      = "ok"
	RefreshPartial = "partial"
	RefreshFailed  = "failed"
)

// PassCatalog predicts pass windows for one object over a time range.
type PassCatalog interface {
	Predict(ctx context.Context, objectID string, station model.GroundStation, from, to time.Time) ([]model.PassWindow, error)
}

// Recorder receives scheduler metrics.
type Recorder interface {
	RefreshCompleted(result string)
	WindowRejected(objectID string)
	QueueDepth(n int)
}

// Config tunes a Scheduler.
type Config struct {
	Horizon      time.Duration
	FetchTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// Scheduler owns the queue of predicted passes and decides which one to
// track next. Readers see an immutable snapshot that refreshes replace
// atomically, so a refresh running on another goroutine never exposes a
// partially built queue.
type Scheduler struct {
	catalog PassCatalog
	clock   timectrl.Clock
	cfg     Config
	log     logging.Logger
	metrics Recorder

	current atomic.Pointer[queue]

	// mu serialises writers and guards completed and wake.
	mu        sync.Mutex
	completed map[string]model.PassWindow
	wake      chan struct{}
}

// New constructs a Scheduler. A nil logger or recorder disables that output.
func New(catalog PassCatalog, clock timectrl.Clock, cfg Config, log logging.Logger, metrics Recorder) *Scheduler {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	s := &Scheduler{
		catalog:   catalog,
		clock:     clock,
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		completed: make(map[string]model.PassWindow),
		wake:      make(chan struct{}),
	}
	s.current.Store(emptyQueue())
	return s
}

// Refresh rebuilds the queue from the catalog for objectIDs over
// [now, now+horizon]. A non-positive horizon selects the configured one.
//
// Each object whose prediction succeeds with at least one valid window has
// its queued windows replaced; objects that fail or yield nothing keep what
// they had. If no object yields data the queue is left untouched and the
// returned error wraps model.ErrDataUnavailable.
func (s *Scheduler) Refresh(ctx context.Context, objectIDs []string, station model.GroundStation, horizon time.Duration) error {
	if horizon <= 0 {
		horizon = s.cfg.Horizon
	}
	now := s.clock.Now()
	to := now.Add(horizon)

	fresh := make(map[string][]model.PassWindow, len(objectIDs))
	var errs []error
	for _, id := range objectIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		windows, err := s.fetch(ctx, id, station, now, to)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.log.Warn(ctx, "pass prediction failed",
				logging.String("object_id", id),
				logging.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if len(windows) > 0 {
			fresh[id] = windows
		}
	}

	if len(fresh) == 0 {
		s.metrics.RefreshCompleted(RefreshFailed)
		if len(errs) == 0 {
			return fmt.Errorf("%w: no passes for %d objects within %s", model.ErrDataUnavailable, len(objectIDs), horizon)
		}
		return fmt.Errorf("%w: %w", model.ErrDataUnavailable, errors.Join(errs...))
	}

	n := s.merge(objectIDs, fresh, now)
	if len(errs) > 0 {
		s.metrics.RefreshCompleted(RefreshPartial)
	} else {
		s.metrics.RefreshCompleted(RefreshOK)
	}
	s.log.Info(ctx, "pass queue refreshed",
		logging.Int("objects", len(objectIDs)),
		logging.Int("updated", len(fresh)),
		logging.Int("failed", len(errs)),
		logging.Int("queued", n),
		logging.Time("horizon_end", to),
	)
	return nil
}

func (s *Scheduler) fetch(ctx context.Context, id string, station model.GroundStation, from, to time.Time) ([]model.PassWindow, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	windows, err := s.catalog.Predict(fctx, id, station, from, to)
	if err != nil {
		return nil, err
	}
	valid := make([]model.PassWindow, 0, len(windows))
	for _, w := range windows {
		if w.ObjectID == "" {
			w.ObjectID = id
		}
		if err := w.Validate(); err != nil {
			s.metrics.WindowRejected(id)
			s.log.Warn(ctx, "rejected pass window", logging.String("object_id", id), logging.Err(err))
			continue
		}
		valid = append(valid, w)
	}
	return valid, nil
}

// merge builds and publishes the next queue. It returns the queue length.
func (s *Scheduler) merge(objectIDs []string, fresh map[string][]model.PassWindow, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneCompletedLocked(now)

	tracked := make(map[string]bool, len(objectIDs))
	for _, id := range objectIDs {
		tracked[id] = true
	}

	prev := s.current.Load()
	merged := make([]model.PassWindow, 0, len(prev.windows))
	for _, w := range prev.windows {
		if _, replaced := fresh[w.ObjectID]; replaced || !tracked[w.ObjectID] {
			continue
		}
		merged = append(merged, w)
	}
	for _, id := range objectIDs {
		merged = append(merged, fresh[id]...)
	}

	seen := make(map[string]bool, len(merged))
	next := merged[:0]
	for _, w := range merged {
		if !w.End.After(now) || seen[w.Key()] || s.completedOverlapLocked(w) {
			continue
		}
		seen[w.Key()] = true
		next = append(next, w)
	}
	sortWindows(next)

	s.publishLocked(&queue{windows: next, refreshedAt: now, version: prev.version + 1})
	return len(next)
}

func (s *Scheduler) completedOverlapLocked(w model.PassWindow) bool {
	for _, done := range s.completed {
		if done.ObjectID == w.ObjectID && done.Overlaps(w) {
			return true
		}
	}
	return false
}

func (s *Scheduler) pruneCompletedLocked(now time.Time) {
	for key, w := range s.completed {
		if !w.End.After(now) {
			delete(s.completed, key)
		}
	}
}

// publishLocked swaps in q and wakes every WaitUntil caller.
func (s *Scheduler) publishLocked(q *queue) {
	s.current.Store(q)
	close(s.wake)
	s.wake = make(chan struct{})
	s.metrics.QueueDepth(len(q.windows))
}

// Next returns the window to track next, considering only windows that end
// after both the current time and the last refresh.
func (s *Scheduler) Next() (model.PassWindow, bool) {
	q := s.current.Load()
	cutoff := s.clock.Now()
	if q.refreshedAt.After(cutoff) {
		cutoff = q.refreshedAt
	}
	return q.selectNext(cutoff)
}

// WaitUntil blocks until w starts. It returns nil at once if w has already
// started, ErrSuperseded if a newly published queue selects a different
// window, and ctx.Err() on cancellation.
func (s *Scheduler) WaitUntil(ctx context.Context, w model.PassWindow) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.clock.Now()
		if !now.Before(w.Start) {
			return nil
		}

		s.mu.Lock()
		wake := s.wake
		s.mu.Unlock()

		if next, ok := s.Next(); !ok || next.Key() != w.Key() {
			return ErrSuperseded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-s.clock.After(w.Start.Sub(now)):
		}
	}
}

// Changed returns a channel that is closed the next time a queue is
// published.
func (s *Scheduler) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake
}

// Complete removes w from the queue and remembers it so later refreshes do
// not queue the same pass again.
func (s *Scheduler) Complete(w model.PassWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed[w.Key()] = w
	q := s.current.Load()
	remaining, found := q.without(w)
	if !found {
		return
	}
	s.publishLocked(&queue{windows: remaining, refreshedAt: q.refreshedAt, version: q.version + 1})
}

// Preempting reports a queued window of another pass that is in progress at
// now and culminates strictly higher than active.
func (s *Scheduler) Preempting(active model.PassWindow, now time.Time) (model.PassWindow, bool) {
	q := s.current.Load()
	var (
		best  model.PassWindow
		found bool
	)
	for _, w := range q.windows {
		if w.ObjectID == active.ObjectID && w.Overlaps(active) {
			continue
		}
		if !w.Contains(now) || w.MaxElevation <= active.MaxElevation {
			continue
		}
		if !found || better(w, best) {
			best, found = w, true
		}
	}
	return best, found
}

// Snapshot returns a copy of the queued windows in start order.
func (s *Scheduler) Snapshot() []model.PassWindow {
	q := s.current.Load()
	return append([]model.PassWindow(nil), q.windows...)
}

// Len returns the number of queued windows.
func (s *Scheduler) Len() int {
	return len(s.current.Load().windows)
}

// LastRefresh returns the clock reading of the last successful refresh.
func (s *Scheduler) LastRefresh() time.Time {
	return s.current.Load().refreshedAt
}

type noopRecorder struct{}

func (noopRecorder) RefreshCompleted(string) {}
func (noopRecorder) WindowRejected(string)   {}
func (noopRecorder) QueueDepth(int)          {}
