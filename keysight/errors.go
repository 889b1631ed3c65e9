package keysight

import "fmt"

// StateError is returned when an operation is not legal in the current
// instrument state.  It is raised before anything is written to the
// wire, and the state model is left untouched.
type StateError struct {
	Op     string
	Reason string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: invalid in current state: %s", e.Op, e.Reason)
}

// RangeError is returned when a requested value lies outside the hard
// limits of the instrument.  Like StateError it is raised before any
// command is sent.
type RangeError struct {
	Op    string
	Value float64
	Min   float64
	Max   float64
}

func (e RangeError) Error() string {
	return fmt.Sprintf("%s: %v out of range [%v, %v]", e.Op, e.Value, e.Min, e.Max)
}

// ConfigError is returned by scope entry (OpenSupply, OpenSourceMeasure
// and the New variants) when the instrument could not be brought to the
// requested configuration.  Stage names how far setup got.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuring instrument (%s): %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
