package triggers

import "errors"

var (
	// ErrTriggerAlreadyRunning is returned when trying to start an already running trigger
	ErrTriggerAlreadyRunning = errors.New("trigger is already running")

	// ErrTriggerNotRunning is returned when trying to stop a trigger that is not running
	ErrTriggerNotRunning = errors.New("trigger is not running")

	// ErrInvalidTriggerConfig is returned when trigger configuration is invalid
	ErrInvalidTriggerConfig = errors.New("invalid trigger configuration")
)
