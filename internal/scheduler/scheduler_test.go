package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

var (
	t0      = time.Date(2025, time.May, 18, 12, 0, 0, 0, time.UTC)
	station = model.GroundStation{Name: "home", Latitude: 52.5, Longitude: 13.4, MinElevation: 10, Active: true}
)

type fakeCatalog struct {
	mu      sync.Mutex
	windows map[string][]model.PassWindow
	errs    map[string]error
	block   bool
	calls   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{windows: map[string][]model.PassWindow{}, errs: map[string]error{}}
}

func (c *fakeCatalog) set(id string, ws ...model.PassWindow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[id] = ws
	delete(c.errs, id)
}

func (c *fakeCatalog) fail(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[id] = err
}

func (c *fakeCatalog) Predict(ctx context.Context, id string, _ model.GroundStation, _, _ time.Time) ([]model.PassWindow, error) {
	c.mu.Lock()
	c.calls++
	block := c.block
	ws, err := c.windows[id], c.errs[id]
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return append([]model.PassWindow(nil), ws...), nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	results  []string
	rejected int
	depth    int
}

func (r *fakeRecorder) RefreshCompleted(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *fakeRecorder) WindowRejected(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

func (r *fakeRecorder) QueueDepth(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = n
}

func window(id string, start, end time.Duration, maxEl float64) model.PassWindow {
	return model.PassWindow{
		ObjectID:     id,
		Start:        t0.Add(start),
		Culmination:  t0.Add((start + end) / 2),
		End:          t0.Add(end),
		MaxElevation: maxEl,
	}
}

func newTestScheduler(cat PassCatalog, clock timectrl.Clock) (*Scheduler, *fakeRecorder) {
	rec := &fakeRecorder{}
	return New(cat, clock, Config{}, nil, rec), rec
}

func TestRefreshRejectsInvalidWindows(t *testing.T) {
	cat := newFakeCatalog()
	good := window("A", time.Minute, 10*time.Minute, 40)
	bad := model.PassWindow{ObjectID: "A", Start: t0.Add(20 * time.Minute), End: t0.Add(20 * time.Minute), MaxElevation: 50}
	reversed := model.PassWindow{ObjectID: "A", Start: t0.Add(40 * time.Minute), End: t0.Add(30 * time.Minute), MaxElevation: 60}
	cat.set("A", good, bad, reversed)

	s, rec := newTestScheduler(cat, timectrl.NewManualClock(t0))
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].Key() != good.Key() {
		t.Fatalf("Snapshot() = %v, want only the valid window", got)
	}
	if rec.rejected != 2 {
		t.Fatalf("rejected = %d, want 2", rec.rejected)
	}
	if rec.depth != 1 {
		t.Fatalf("queue depth = %d, want 1", rec.depth)
	}
}

func TestNextSkipsWindowsEndedBeforeRefresh(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0.Add(15 * time.Minute))
	past := window("A", 0, 10*time.Minute, 80)
	future := window("B", 30*time.Minute, 40*time.Minute, 20)
	cat.set("A", past)
	cat.set("B", future)

	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A", "B"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	next, ok := s.Next()
	if !ok || next.Key() != future.Key() {
		t.Fatalf("Next() = %v, %v; want %v", next, ok, future)
	}

	clock.AdvanceTo(t0.Add(41 * time.Minute))
	if next, ok := s.Next(); ok {
		t.Fatalf("Next() = %v after every window ended", next)
	}
}

func TestOverlappingWindowsPreferHigherElevation(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	w1 := window("W1", 10*time.Minute, 20*time.Minute, 80)
	w2 := window("W2", 5*time.Minute, 15*time.Minute, 40)
	cat.set("W1", w1)
	cat.set("W2", w2)

	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"W1", "W2"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	next, ok := s.Next()
	if !ok || next.ObjectID != "W1" {
		t.Fatalf("Next() = %v, want W1", next)
	}
	if s.Len() != 2 {
		t.Fatalf("deferred window was discarded: Len() = %d", s.Len())
	}

	s.Complete(w1)
	next, ok = s.Next()
	if !ok || next.ObjectID != "W2" {
		t.Fatalf("Next() after completing W1 = %v, %v; want W2", next, ok)
	}
}

func TestNextTieBreaksOnStart(t *testing.T) {
	cat := newFakeCatalog()
	a := window("A", 5*time.Minute, 15*time.Minute, 50)
	b := window("B", 2*time.Minute, 12*time.Minute, 50)
	cat.set("A", a)
	cat.set("B", b)

	s, _ := newTestScheduler(cat, timectrl.NewManualClock(t0))
	if err := s.Refresh(context.Background(), []string{"A", "B"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next, _ := s.Next(); next.ObjectID != "B" {
		t.Fatalf("Next() = %v, want B", next)
	}
}

func TestRefreshTwiceIsIdempotent(t *testing.T) {
	cat := newFakeCatalog()
	cat.set("A", window("A", time.Minute, 10*time.Minute, 40), window("A", 2*time.Hour, 2*time.Hour+8*time.Minute, 30))
	cat.set("B", window("B", 30*time.Minute, 40*time.Minute, 60), window("B", 30*time.Minute, 40*time.Minute, 60))

	s, _ := newTestScheduler(cat, timectrl.NewManualClock(t0))
	ids := []string{"A", "B"}
	if err := s.Refresh(context.Background(), ids, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := s.Snapshot()
	if err := s.Refresh(context.Background(), ids, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second := s.Snapshot()

	if len(first) != 3 {
		t.Fatalf("first refresh queued %d windows, want 3", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("queues differ:\n%v\n%v", first, second)
	}
	seen := map[string]bool{}
	for _, w := range second {
		if seen[w.Key()] {
			t.Fatalf("duplicate window %s", w)
		}
		seen[w.Key()] = true
	}
}

func TestRefreshKeepsWindowsOfFailedObjects(t *testing.T) {
	cat := newFakeCatalog()
	a := window("A", time.Minute, 10*time.Minute, 40)
	b := window("B", 30*time.Minute, 40*time.Minute, 60)
	cat.set("A", a)
	cat.set("B", b)

	s, rec := newTestScheduler(cat, timectrl.NewManualClock(t0))
	ids := []string{"A", "B"}
	if err := s.Refresh(context.Background(), ids, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	a2 := window("A", 3*time.Hour, 3*time.Hour+5*time.Minute, 45)
	cat.set("A", a2)
	cat.fail("B", model.ErrStaleData)
	if err := s.Refresh(context.Background(), ids, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got := s.Snapshot()
	want := []model.PassWindow{b, a2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	if last := rec.results[len(rec.results)-1]; last != RefreshPartial {
		t.Fatalf("refresh result = %q, want %q", last, RefreshPartial)
	}
}

func TestRefreshWithoutDataKeepsQueue(t *testing.T) {
	cat := newFakeCatalog()
	a := window("A", time.Minute, 10*time.Minute, 40)
	cat.set("A", a)

	s, rec := newTestScheduler(cat, timectrl.NewManualClock(t0))
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cat.fail("A", model.ErrDataUnavailable)
	err := s.Refresh(context.Background(), []string{"A"}, station, 0)
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Fatalf("Refresh() = %v, want ErrDataUnavailable", err)
	}
	if s.Len() != 1 {
		t.Fatalf("queue changed after failed refresh: %v", s.Snapshot())
	}
	if last := rec.results[len(rec.results)-1]; last != RefreshFailed {
		t.Fatalf("refresh result = %q, want %q", last, RefreshFailed)
	}
}

func TestRefreshFetchTimeout(t *testing.T) {
	cat := newFakeCatalog()
	cat.block = true

	s := New(cat, timectrl.NewManualClock(t0), Config{FetchTimeout: 10 * time.Millisecond}, nil, nil)
	err := s.Refresh(context.Background(), []string{"A"}, station, 0)
	if !errors.Is(err, model.ErrDataUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Refresh() = %v, want ErrDataUnavailable wrapping DeadlineExceeded", err)
	}
}

func TestCompletedPassIsNotResurrected(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	a := window("A", time.Minute, 10*time.Minute, 40)
	cat.set("A", a)

	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	clock.AdvanceTo(t0.Add(5 * time.Minute))
	s.Complete(a)

	// A re-prediction clipped to now is the same pass.
	clipped := a
	clipped.Start = clock.Now()
	later := window("A", 2*time.Hour, 2*time.Hour+5*time.Minute, 30)
	cat.set("A", clipped, later)
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := s.Snapshot()
	if len(got) != 1 || got[0].Key() != later.Key() {
		t.Fatalf("Snapshot() = %v, want only the later pass", got)
	}
}

func TestWaitUntilReturnsAtStart(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	a := window("A", time.Minute, 10*time.Minute, 40)
	cat.set("A", a)
	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.WaitUntil(context.Background(), a) }()

	waitForWaiter(t, clock)
	select {
	case err := <-done:
		t.Fatalf("WaitUntil returned early: %v", err)
	default:
	}
	clock.AdvanceTo(a.Start)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitUntil() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitUntil did not return at window start")
	}

	// Already started: immediate.
	if err := s.WaitUntil(context.Background(), a); err != nil {
		t.Fatalf("WaitUntil(started) = %v", err)
	}
}

func TestWaitUntilSuperseded(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	a := window("A", 30*time.Minute, 40*time.Minute, 40)
	cat.set("A", a)
	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A", "B"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.WaitUntil(context.Background(), a) }()
	waitForWaiter(t, clock)

	cat.set("B", window("B", 5*time.Minute, 15*time.Minute, 70))
	if err := s.Refresh(context.Background(), []string{"A", "B"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("WaitUntil() = %v, want ErrSuperseded", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitUntil was not woken by the new queue")
	}
}

func TestWaitUntilCancelled(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	a := window("A", 30*time.Minute, 40*time.Minute, 40)
	cat.set("A", a)
	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.WaitUntil(ctx, a) }()
	waitForWaiter(t, clock)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("WaitUntil() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitUntil ignored cancellation")
	}
}

func TestPreempting(t *testing.T) {
	cat := newFakeCatalog()
	clock := timectrl.NewManualClock(t0)
	active := window("A", 0, 20*time.Minute, 30)
	higher := window("B", 5*time.Minute, 15*time.Minute, 70)
	lower := window("C", 2*time.Minute, 12*time.Minute, 20)
	cat.set("A", active)
	cat.set("B", higher)
	cat.set("C", lower)
	s, _ := newTestScheduler(cat, clock)
	if err := s.Refresh(context.Background(), []string{"A", "B", "C"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if w, ok := s.Preempting(active, t0.Add(3*time.Minute)); ok {
		t.Fatalf("Preempting() = %v before the higher pass started", w)
	}
	w, ok := s.Preempting(active, t0.Add(6*time.Minute))
	if !ok || w.ObjectID != "B" {
		t.Fatalf("Preempting() = %v, %v; want B", w, ok)
	}

	// A re-prediction of the active pass never pre-empts it.
	again := active
	again.Start = t0.Add(time.Minute)
	again.MaxElevation = 31
	cat.set("A", again)
	cat.set("B")
	if err := s.Refresh(context.Background(), []string{"A", "B", "C"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s.Complete(higher)
	if w, ok := s.Preempting(active, t0.Add(6*time.Minute)); ok {
		t.Fatalf("Preempting() = %v for a re-predicted active pass", w)
	}
}

func waitForWaiter(t *testing.T, clock *timectrl.ManualClock) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no goroutine waiting on the clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestChangedClosesOnPublish(t *testing.T) {
	cat := newFakeCatalog()
	a := window("A", 10*time.Minute, 20*time.Minute, 40)
	cat.set("A", a)
	s, _ := newTestScheduler(cat, timectrl.NewManualClock(t0))

	changed := s.Changed()
	select {
	case <-changed:
		t.Fatalf("Changed closed before any queue was published")
	default:
	}
	if err := s.Refresh(context.Background(), []string{"A"}, station, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case <-changed:
	default:
		t.Fatalf("Changed not closed by Refresh")
	}

	changed = s.Changed()
	s.Complete(a)
	select {
	case <-changed:
	default:
		t.Fatalf("Changed not closed by Complete")
	}
}
