package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the core and its collaborators.
var (
	// ErrDataUnavailable means no passes can be computed, usually because no
	// current element set exists for the object.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrStaleData means the element set is older than the staleness threshold.
	ErrStaleData = errors.New("stale element set")
	// ErrCompute means a position could not be computed for other reasons.
	ErrCompute = errors.New("position compute error")
	// ErrActuatorFault means the pointing mechanism rejected or failed a command.
	ErrActuatorFault = errors.New("actuator fault")
)

// ConfigurationError reports a missing or invalid setting detected at startup.
// It is the only error that terminates the process.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
