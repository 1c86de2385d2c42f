package core

import (
	"math"

	"github.com/signalsfoundry/passtrack/model"
)

// WGS84 ellipsoid constants (kilometres).
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// Vec3 is an ECEF vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// GeodeticToECEF converts a WGS84 geodetic position (degrees, kilometres) to
// ECEF kilometres.
func GeodeticToECEF(latDeg, lonDeg, altKm float64) Vec3 {
	lat := latDeg * deg2rad
	lon := lonDeg * deg2rad
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Vec3{
		X: (n + altKm) * cosLat * math.Cos(lon),
		Y: (n + altKm) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + altKm) * sinLat,
	}
}

// StationECEF returns the ECEF position of a ground station.
func StationECEF(gs model.GroundStation) Vec3 {
	return GeodeticToECEF(gs.Latitude, gs.Longitude, gs.AltitudeKm())
}

// LookAngles returns azimuth (degrees from north, clockwise), elevation
// (degrees above the local horizon) and slant range (km) of target as seen
// from a station at the given geodetic coordinates.
func LookAngles(latDeg, lonDeg float64, observer, target Vec3) (az, el, rng float64) {
	r := target.Sub(observer)
	rng = r.Norm()
	if rng == 0 {
		return 0, 90, 0
	}

	lat := latDeg * deg2rad
	lon := lonDeg * deg2rad
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	east := -sinLon*r.X + cosLon*r.Y
	north := -sinLat*cosLon*r.X - sinLat*sinLon*r.Y + cosLat*r.Z
	up := cosLat*cosLon*r.X + cosLat*sinLon*r.Y + sinLat*r.Z

	az = model.NormalizeAzimuth(math.Atan2(east, north) * rad2deg)
	sinEl := up / rng
	if sinEl > 1 {
		sinEl = 1
	} else if sinEl < -1 {
		sinEl = -1
	}
	el = math.Asin(sinEl) * rad2deg
	return az, el, rng
}
