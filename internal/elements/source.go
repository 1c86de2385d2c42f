package elements

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/kb"
	"github.com/signalsfoundry/passtrack/model"
)

// Fetcher reads the station backend.
type Fetcher interface {
	TrackableElements(ctx context.Context) ([]model.ElementSet, error)
	GroundStations(ctx context.Context) ([]model.GroundStation, error)
}

// Source keeps the element-set knowledge base in step with the backend. It
// persists every successful fetch and falls back to the persisted copy when
// the backend is unreachable. Either the fetcher or the store may be nil.
type Source struct {
	fetcher  Fetcher
	store    *Store
	elements *kb.ElementStore
	log      logging.Logger
}

// NewSource constructs a Source loading into elements.
func NewSource(fetcher Fetcher, store *Store, elements *kb.ElementStore, log logging.Logger) *Source {
	if log == nil {
		log = logging.Noop()
	}
	return &Source{fetcher: fetcher, store: store, elements: elements, log: log}
}

// Sync fetches the trackable element sets and loads them into the knowledge
// base. Objects that are no longer trackable are removed. It fails only when
// neither the backend nor the store yields any element set.
func (s *Source) Sync(ctx context.Context) error {
	sets, err := s.fetchElements(ctx)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(sets))
	updated := 0
	for _, es := range sets {
		keep[es.ObjectID] = true
		changed, err := s.elements.Put(es)
		if err != nil {
			s.log.Warn(ctx, "rejected element set", logging.String("object_id", es.ObjectID), logging.Err(err))
			continue
		}
		if changed {
			updated++
		}
	}
	removed := 0
	for _, id := range s.elements.IDs() {
		if !keep[id] && s.elements.Remove(id) {
			removed++
		}
	}

	s.log.Info(ctx, "element sets synced",
		logging.Int("objects", len(sets)),
		logging.Int("updated", updated),
		logging.Int("removed", removed),
	)
	return nil
}

func (s *Source) fetchElements(ctx context.Context) ([]model.ElementSet, error) {
	var fetchErr error
	if s.fetcher != nil {
		sets, err := s.fetcher.TrackableElements(ctx)
		if err == nil {
			if s.store != nil {
				if err := s.store.SaveElements(ctx, sets); err != nil {
					s.log.Warn(ctx, "persisting element sets failed", logging.Err(err))
				}
			}
			return sets, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErr = err
		s.log.Warn(ctx, "fetching element sets failed, using stored copy", logging.Err(err))
	}

	if s.store == nil {
		if fetchErr == nil {
			return nil, fmt.Errorf("%w: no backend or store configured", model.ErrDataUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrDataUnavailable, fetchErr)
	}
	sets, err := s.store.TrackableElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read stored element sets: %w", model.ErrDataUnavailable, err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no stored element sets", model.ErrDataUnavailable)
	}
	return sets, nil
}

// ObjectIDs returns the objects currently in the knowledge base.
func (s *Source) ObjectIDs() []string {
	return s.elements.IDs()
}

// Station resolves the ground station to operate. An empty name selects the
// first active station. Stations are fetched from the backend, falling back
// to the store.
func (s *Source) Station(ctx context.Context, name string) (model.GroundStation, error) {
	stations, err := s.stations(ctx)
	if err != nil {
		return model.GroundStation{}, err
	}
	return SelectStation(stations, name)
}

func (s *Source) stations(ctx context.Context) ([]model.GroundStation, error) {
	if s.fetcher != nil {
		stations, err := s.fetcher.GroundStations(ctx)
		switch {
		case err == nil && len(stations) > 0:
			if s.store != nil {
				if err := s.store.SaveStations(ctx, stations); err != nil {
					s.log.Warn(ctx, "persisting ground stations failed", logging.Err(err))
				}
			}
			return stations, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			s.log.Warn(ctx, "fetching ground stations failed, using stored copy", logging.Err(err))
		}
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: no ground stations", model.ErrDataUnavailable)
	}
	stations, err := s.store.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read stored ground stations: %w", model.ErrDataUnavailable, err)
	}
	if len(stations) == 0 {
		return nil, fmt.Errorf("%w: no ground stations", model.ErrDataUnavailable)
	}
	return stations, nil
}

// SelectStation picks the station called name (case-insensitive), or the
// first active station when name is empty.
func SelectStation(stations []model.GroundStation, name string) (model.GroundStation, error) {
	name = strings.TrimSpace(name)
	for _, gs := range stations {
		if name == "" && gs.Active {
			return gs, nil
		}
		if name != "" && strings.EqualFold(gs.Name, name) {
			return gs, nil
		}
	}
	if name == "" {
		return model.GroundStation{}, &model.ConfigurationError{Field: "station.name", Reason: "no active ground station"}
	}
	return model.GroundStation{}, &model.ConfigurationError{Field: "station.name", Reason: fmt.Sprintf("unknown ground station %q", name)}
}
