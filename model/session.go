package model

import "time"

// Phase is the lifecycle state of a tracking session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAcquiring
	PhaseTracking
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAcquiring:
		return "acquiring"
	case PhaseTracking:
		return "tracking"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Reason records why a session ended.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonWindowEnded  Reason = "window_ended"
	ReasonBelowHorizon Reason = "below_horizon"
	ReasonInterrupted  Reason = "interrupted"
	ReasonFailed       Reason = "failed"
	ReasonShutdown     Reason = "shutdown"
)

// TrackingSession is the state of one pass being tracked.
type TrackingSession struct {
	ID             string
	Window         PassWindow
	Phase          Phase
	LastCommand    Command
	HasLastCommand bool
	LastError      error
	CommandsSent   int
	StartedAt      time.Time
	EndedAt        time.Time
	Reason         Reason
}
