package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/passtrack/kb"
	"github.com/signalsfoundry/passtrack/model"
)

// DefaultSampleInterval is the coarse elevation sampling step.
const DefaultSampleInterval = 30 * time.Second

// refineResolution is the precision of rise, set and culmination times.
const refineResolution = time.Second

// PassPredictor computes pass windows from the element sets in a
// kb.ElementStore.
type PassPredictor struct {
	store          *kb.ElementStore
	SampleInterval time.Duration
	StaleAfter     time.Duration
}

// NewPassPredictor constructs a predictor with default sampling and staleness.
func NewPassPredictor(store *kb.ElementStore) *PassPredictor {
	return &PassPredictor{
		store:          store,
		SampleInterval: DefaultSampleInterval,
		StaleAfter:     DefaultStaleAfter,
	}
}

// Predict returns the passes of objectID above gs.MinElevation within
// [from, to], ordered by start. Passes already in progress at from are
// clipped to it; passes still open at to are clipped to to.
func (p *PassPredictor) Predict(ctx context.Context, objectID string, gs model.GroundStation, from, to time.Time) ([]model.PassWindow, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("predict %s: horizon end %s is not after start %s",
			objectID, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	es, ok := p.store.Get(objectID)
	if !ok {
		return nil, fmt.Errorf("%w: no element set for %s", model.ErrDataUnavailable, objectID)
	}
	prop, err := NewPropagator(es)
	if err != nil {
		return nil, err
	}
	staleAfter := p.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if err := checkFresh(prop, from, staleAfter); err != nil {
		return nil, err
	}
	step := p.SampleInterval
	if step <= 0 {
		step = DefaultSampleInterval
	}

	s := &sampler{prop: prop, gs: gs}
	from = from.Truncate(time.Second)
	to = to.Truncate(time.Second)

	var (
		windows []model.PassWindow
		open    bool
		rise    time.Time
		prevT   time.Time
	)
	for t := from; ; t = t.Add(step) {
		if t.After(to) {
			t = to
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		above, err := s.above(t)
		if err != nil {
			return nil, err
		}

		switch {
		case above && !open:
			open = true
			if t.Equal(from) {
				rise = from
			} else if rise, err = s.crossing(prevT, t, true); err != nil {
				return nil, err
			}
		case !above && open:
			open = false
			set, err := s.crossing(prevT, t, false)
			if err != nil {
				return nil, err
			}
			if w, ok, err := s.window(objectID, rise, set, from, to); err != nil {
				return nil, err
			} else if ok {
				windows = append(windows, w)
			}
		}

		prevT = t
		if t.Equal(to) {
			break
		}
	}
	if open {
		if w, ok, err := s.window(objectID, rise, to, from, to); err != nil {
			return nil, err
		} else if ok {
			windows = append(windows, w)
		}
	}
	return windows, nil
}

type sampler struct {
	prop *Propagator
	gs   model.GroundStation
}

func (s *sampler) look(t time.Time) (model.Position, error) {
	return s.prop.Look(s.gs, t)
}

func (s *sampler) elevation(t time.Time) (float64, error) {
	pos, err := s.look(t)
	if err != nil {
		return 0, err
	}
	return pos.Elevation, nil
}

func (s *sampler) above(t time.Time) (bool, error) {
	el, err := s.elevation(t)
	if err != nil {
		return false, err
	}
	return el >= s.gs.MinElevation, nil
}

// crossing bisects (lo, hi] for the first second at which the object is
// above the mask (rising) or below it (setting).
func (s *sampler) crossing(lo, hi time.Time, rising bool) (time.Time, error) {
	for hi.Sub(lo) > refineResolution {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		if !mid.After(lo) {
			break
		}
		above, err := s.above(mid)
		if err != nil {
			return time.Time{}, err
		}
		if above == rising {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

// culmination ternary-searches [lo, hi] for the maximum elevation.
func (s *sampler) culmination(lo, hi time.Time) (time.Time, float64, error) {
	for hi.Sub(lo) > 2*refineResolution {
		third := hi.Sub(lo) / 3
		m1 := lo.Add(third)
		m2 := hi.Add(-third)
		e1, err := s.elevation(m1)
		if err != nil {
			return time.Time{}, 0, err
		}
		e2, err := s.elevation(m2)
		if err != nil {
			return time.Time{}, 0, err
		}
		if e1 < e2 {
			lo = m1
		} else {
			hi = m2
		}
	}

	best := lo.Truncate(time.Second)
	bestEl := -90.0
	for t := best; !t.After(hi.Add(refineResolution)); t = t.Add(refineResolution) {
		el, err := s.elevation(t)
		if err != nil {
			return time.Time{}, 0, err
		}
		if el > bestEl {
			best, bestEl = t, el
		}
	}
	return best, bestEl, nil
}

func (s *sampler) window(objectID string, rise, set, from, to time.Time) (model.PassWindow, bool, error) {
	if !set.After(rise) {
		return model.PassWindow{}, false, nil
	}
	culm, maxEl, err := s.culmination(rise, set)
	if err != nil {
		return model.PassWindow{}, false, err
	}
	if culm.Before(rise) {
		culm = rise
	}
	if culm.After(set) {
		culm = set
	}
	start, err := s.look(rise)
	if err != nil {
		return model.PassWindow{}, false, err
	}
	end, err := s.look(set)
	if err != nil {
		return model.PassWindow{}, false, err
	}

	w := model.PassWindow{
		ObjectID:     objectID,
		Start:        rise,
		End:          set,
		MaxElevation: maxEl,
		StartAzimuth: start.Azimuth,
		EndAzimuth:   end.Azimuth,
	}
	// A culmination pinned to a window edge is not a real peak.
	if culm.After(rise) && culm.Before(set) {
		w.Culmination = culm
	}
	return w, true, nil
}
