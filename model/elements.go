package model

import "time"

// ElementSet is an orbital element set as ingested from the station backend.
// The core never looks inside it.
type ElementSet struct {
	ObjectID     string
	NoradID      int
	Line1        string
	Line2        string
	Epoch        time.Time
	Group        string
	AutoTracking bool
	OrbitStatus  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TrackedObject pairs an object identifier with the element set version its
// passes were last computed from.
type TrackedObject struct {
	ID             string
	ElementVersion time.Time
}
