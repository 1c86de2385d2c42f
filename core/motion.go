package core

import (
	"fmt"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/passtrack/internal/elements"
	"github.com/signalsfoundry/passtrack/model"
)

// minOrbitRadiusKm is the smallest geocentric radius accepted from SGP4.
// Anything lower means the element set has decayed into the Earth.
const minOrbitRadiusKm = 6378.0

// Propagator computes positions of one object from a single element set
// using SGP4.
type Propagator struct {
	objectID string
	epoch    time.Time
	sat      satellite.Satellite
}

// NewPropagator validates the element lines and initialises SGP4.
func NewPropagator(es model.ElementSet) (*Propagator, error) {
	if err := elements.ValidateLines(es.Line1, es.Line2); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCompute, es.ObjectID, err)
	}
	epoch := es.Epoch
	if epoch.IsZero() {
		parsed, err := elements.Epoch(es.Line1)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrCompute, es.ObjectID, err)
		}
		epoch = parsed
	}
	return &Propagator{
		objectID: es.ObjectID,
		epoch:    epoch,
		sat:      satellite.TLEToSat(es.Line1, es.Line2, satellite.GravityWGS72),
	}, nil
}

// ObjectID returns the object this propagator was built for.
func (p *Propagator) ObjectID() string { return p.objectID }

// Epoch returns the element set epoch.
func (p *Propagator) Epoch() time.Time { return p.epoch }

// ECEF propagates to at and returns the Earth-fixed position in kilometres.
// go-satellite resolves time to whole seconds.
func (p *Propagator) ECEF(at time.Time) (Vec3, error) {
	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()

	posECI, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	v := Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	if !v.IsFinite() {
		return Vec3{}, fmt.Errorf("%w: %s: propagation produced non-finite position at %s",
			model.ErrCompute, p.objectID, at.Format(time.RFC3339))
	}
	if v.Norm() < minOrbitRadiusKm {
		return Vec3{}, fmt.Errorf("%w: %s: propagated radius %.1f km below the surface at %s",
			model.ErrCompute, p.objectID, v.Norm(), at.Format(time.RFC3339))
	}
	return v, nil
}

// Look returns the topocentric position of the object from gs at time at.
func (p *Propagator) Look(gs model.GroundStation, at time.Time) (model.Position, error) {
	target, err := p.ECEF(at)
	if err != nil {
		return model.Position{}, err
	}
	az, el, rng := LookAngles(gs.Latitude, gs.Longitude, StationECEF(gs), target)
	return model.Position{Azimuth: az, Elevation: el, Range: rng, At: at}, nil
}
