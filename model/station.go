package model

import (
	"math"
	"strings"
)

// GroundStation is the observer location passes are predicted and tracked from.
// It is read-only for the duration of a tracking session.
type GroundStation struct {
	Name         string
	Latitude     float64 // degrees, north positive
	Longitude    float64 // degrees, east positive
	Altitude     float64 // metres above the WGS84 ellipsoid
	MinElevation float64 // degrees; passes are predicted above this mask
	Active       bool
}

// Validate checks that the station describes a usable observer.
func (g GroundStation) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return &ConfigurationError{Field: "station.name", Reason: "must not be empty"}
	}
	if math.IsNaN(g.Latitude) || g.Latitude < -90 || g.Latitude > 90 {
		return &ConfigurationError{Field: "station.latitude", Reason: "must be within [-90, 90]"}
	}
	if math.IsNaN(g.Longitude) || g.Longitude < -180 || g.Longitude > 180 {
		return &ConfigurationError{Field: "station.longitude", Reason: "must be within [-180, 180]"}
	}
	if g.MinElevation < 0 || g.MinElevation >= 90 {
		return &ConfigurationError{Field: "station.min_elevation", Reason: "must be within [0, 90)"}
	}
	return nil
}

// AltitudeKm returns the station altitude in kilometres.
func (g GroundStation) AltitudeKm() float64 {
	return g.Altitude / 1000.0
}
