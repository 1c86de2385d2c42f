package model

import (
	"fmt"
	"time"
)

// PassWindow is one predicted visibility interval of an object over a ground
// station. It is immutable once returned by a catalog.
type PassWindow struct {
	ObjectID string
	Start    time.Time
	// Culmination is the time of maximum elevation. The zero value means the
	// culmination is not reported.
	Culmination  time.Time
	End          time.Time
	MaxElevation float64 // degrees
	StartAzimuth float64 // degrees
	EndAzimuth   float64 // degrees
}

// HasCulmination reports whether the window carries a culmination time.
func (w PassWindow) HasCulmination() bool {
	return !w.Culmination.IsZero()
}

// Validate enforces start < culmination < end, or start < end when the
// culmination is absent.
func (w PassWindow) Validate() error {
	if w.ObjectID == "" {
		return fmt.Errorf("pass window: empty object id")
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("pass window %s: missing start or end", w.ObjectID)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("pass window %s: start %s is not before end %s",
			w.ObjectID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	if w.HasCulmination() && (!w.Start.Before(w.Culmination) || !w.Culmination.Before(w.End)) {
		return fmt.Errorf("pass window %s: culmination %s outside (start, end)",
			w.ObjectID, w.Culmination.Format(time.RFC3339))
	}
	return nil
}

// Key identifies a window by object and start second. Two predictions of the
// same pass from identical element sets share a key.
func (w PassWindow) Key() string {
	return fmt.Sprintf("%s@%d", w.ObjectID, w.Start.Unix())
}

// Duration returns End - Start.
func (w PassWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls within [Start, End).
func (w PassWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the two windows share any instant.
func (w PassWindow) Overlaps(other PassWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

func (w PassWindow) String() string {
	return fmt.Sprintf("%s [%s - %s] max %.1f°",
		w.ObjectID,
		w.Start.UTC().Format(time.RFC3339),
		w.End.UTC().Format(time.RFC3339),
		w.MaxElevation,
	)
}
