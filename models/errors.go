package models

import (
	"errors"
	"fmt"
)

// ErrStaleData marks a payload older than the stored state
var ErrStaleData = errors.New("stale feeding status")

// ConfigError is fatal and stops the device before the main loop
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// LinkError is a recoverable network or parsing failure
type LinkError struct {
	Layer string
	Err   error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s link failure: %v", e.Layer, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ClockDriftWarning reports a failed time sync
type ClockDriftWarning struct {
	Err error
}

func (w *ClockDriftWarning) Error() string {
	return fmt.Sprintf("clock resync failed: %v", w.Err)
}

func (w *ClockDriftWarning) Unwrap() error {
	return w.Err
}
