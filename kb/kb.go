package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/passtrack/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventElementsUpdated EventType = iota
	EventElementsRemoved
)

// Event is emitted to subscribers when an element set changes.
type Event struct {
	Type     EventType
	Elements model.ElementSet
}

// ElementStore is an in-memory, thread-safe store of the current element set
// per object.
type ElementStore struct {
	mu sync.RWMutex

	elements map[string]model.ElementSet

	nextSub int
	subs    map[int]func(Event)
}

// NewElementStore constructs an empty store.
func NewElementStore() *ElementStore {
	return &ElementStore{
		elements: make(map[string]model.ElementSet),
		subs:     make(map[int]func(Event)),
	}
}

// Put stores es unless the store already holds a newer epoch for the same
// object. It reports whether the store changed.
func (s *ElementStore) Put(es model.ElementSet) (bool, error) {
	if es.ObjectID == "" {
		return false, fmt.Errorf("element set has empty object id")
	}
	if es.Epoch.IsZero() {
		return false, fmt.Errorf("element set %q has no epoch", es.ObjectID)
	}

	s.mu.Lock()
	if cur, ok := s.elements[es.ObjectID]; ok {
		if es.Epoch.Before(cur.Epoch) {
			s.mu.Unlock()
			return false, nil
		}
		if cur.Epoch.Equal(es.Epoch) && cur.Line1 == es.Line1 && cur.Line2 == es.Line2 {
			s.mu.Unlock()
			return false, nil
		}
	}
	s.elements[es.ObjectID] = es
	subs := s.subscribersLocked()
	s.mu.Unlock()

	// Notify outside the lock so subscribers may read the store.
	notify(subs, Event{Type: EventElementsUpdated, Elements: es})
	return true, nil
}

// Remove deletes the element set of an object, if present.
func (s *ElementStore) Remove(objectID string) bool {
	s.mu.Lock()
	es, ok := s.elements[objectID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.elements, objectID)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventElementsRemoved, Elements: es})
	return true
}

// Get returns the current element set for objectID.
func (s *ElementStore) Get(objectID string) (model.ElementSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.elements[objectID]
	return es, ok
}

// List returns a snapshot of all element sets ordered by object ID.
func (s *ElementStore) List() []model.ElementSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.ElementSet, 0, len(s.elements))
	for _, es := range s.elements {
		res = append(res, es)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ObjectID < res[j].ObjectID })
	return res
}

// IDs returns the known object IDs in sorted order.
func (s *ElementStore) IDs() []string {
	list := s.List()
	ids := make([]string, len(list))
	for i, es := range list {
		ids[i] = es.ObjectID
	}
	return ids
}

// Tracked resolves ids against the store. Unknown IDs are skipped.
func (s *ElementStore) Tracked(ids []string) []model.TrackedObject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.TrackedObject, 0, len(ids))
	for _, id := range ids {
		es, ok := s.elements[id]
		if !ok {
			continue
		}
		res = append(res, model.TrackedObject{ID: id, ElementVersion: es.Epoch})
	}
	return res
}

// Len returns the number of stored element sets.
func (s *ElementStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function.
func (s *ElementStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *ElementStore) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
