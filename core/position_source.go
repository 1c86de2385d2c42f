package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/passtrack/kb"
	"github.com/signalsfoundry/passtrack/model"
)

// DefaultStaleAfter is how far from its epoch an element set may be used.
const DefaultStaleAfter = 14 * 24 * time.Hour

// PositionSource answers topocentric position queries from the element sets
// held in a kb.ElementStore. Propagators are cached per element version and
// dropped when the store reports a change.
type PositionSource struct {
	store      *kb.ElementStore
	staleAfter time.Duration

	mu          sync.Mutex
	cache       map[string]*Propagator
	unsubscribe func()
}

// NewPositionSource constructs a source over store. A non-positive staleAfter
// selects DefaultStaleAfter.
func NewPositionSource(store *kb.ElementStore, staleAfter time.Duration) *PositionSource {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	s := &PositionSource{
		store:      store,
		staleAfter: staleAfter,
		cache:      make(map[string]*Propagator),
	}
	s.unsubscribe = store.Subscribe(func(ev kb.Event) {
		s.mu.Lock()
		delete(s.cache, ev.Elements.ObjectID)
		s.mu.Unlock()
	})
	return s
}

// Close detaches the source from store updates.
func (s *PositionSource) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Position returns where objectID appears from gs at time at. It fails with
// model.ErrStaleData when the element set is too far from at and with
// model.ErrCompute for every other reason.
func (s *PositionSource) Position(ctx context.Context, objectID string, gs model.GroundStation, at time.Time) (model.Position, error) {
	if err := ctx.Err(); err != nil {
		return model.Position{}, err
	}
	prop, err := s.propagator(objectID)
	if err != nil {
		return model.Position{}, err
	}
	if err := checkFresh(prop, at, s.staleAfter); err != nil {
		return model.Position{}, err
	}
	return prop.Look(gs, at)
}

func (s *PositionSource) propagator(objectID string) (*Propagator, error) {
	es, ok := s.store.Get(objectID)
	if !ok {
		return nil, fmt.Errorf("%w: no element set for %s", model.ErrCompute, objectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.cache[objectID]; ok && p.Epoch().Equal(es.Epoch) {
		return p, nil
	}
	p, err := NewPropagator(es)
	if err != nil {
		return nil, err
	}
	s.cache[objectID] = p
	return p, nil
}

func checkFresh(p *Propagator, at time.Time, staleAfter time.Duration) error {
	age := at.Sub(p.Epoch())
	if age < 0 {
		age = -age
	}
	if age > staleAfter {
		return fmt.Errorf("%w: %s epoch %s is %s from %s",
			model.ErrStaleData, p.ObjectID(), p.Epoch().Format(time.RFC3339),
			age.Round(time.Hour), at.Format(time.RFC3339))
	}
	return nil
}
