package model

import (
	"fmt"
	"math"
	"time"
)

// Position is the topocentric location of an object seen from a station.
type Position struct {
	Azimuth   float64 // degrees, clockwise from north, [0, 360)
	Elevation float64 // degrees above the horizon
	Range     float64 // slant range, km
	At        time.Time
}

// Command is one azimuth/elevation pointing request for the actuator.
type Command struct {
	Azimuth   float64
	Elevation float64
}

// Limits bound the angles the actuator may be driven to.
type Limits struct {
	MinAzimuth   float64
	MaxAzimuth   float64
	MinElevation float64
	MaxElevation float64
}

// DefaultLimits covers the full azimuth circle and the upper hemisphere.
func DefaultLimits() Limits {
	return Limits{MinAzimuth: 0, MaxAzimuth: 360, MinElevation: 0, MaxElevation: 90}
}

// NewCommand builds a command with azimuth normalized into [0, 360) and
// elevation clamped into [0, 90].
func NewCommand(azimuth, elevation float64) Command {
	return Command{
		Azimuth:   NormalizeAzimuth(azimuth),
		Elevation: clamp(elevation, 0, 90),
	}
}

// Clamp restricts the command to the given limits.
func (c Command) Clamp(l Limits) Command {
	return Command{
		Azimuth:   clamp(c.Azimuth, l.MinAzimuth, math.Nextafter(l.MaxAzimuth, l.MinAzimuth)),
		Elevation: clamp(c.Elevation, l.MinElevation, l.MaxElevation),
	}
}

// Delta returns the larger of the shortest azimuth difference and the
// elevation difference between two commands, in degrees.
func (c Command) Delta(other Command) float64 {
	daz := math.Abs(c.Azimuth - other.Azimuth)
	if daz > 180 {
		daz = 360 - daz
	}
	del := math.Abs(c.Elevation - other.Elevation)
	return math.Max(daz, del)
}

func (c Command) String() string {
	return fmt.Sprintf("az=%.1f° el=%.1f°", c.Azimuth, c.Elevation)
}

// NormalizeAzimuth wraps an angle into [0, 360).
func NormalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az = 0
	}
	return az
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
