package maslow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when an intent needs a connected machine and there is none.
	ErrNotReady = errors.New("machine not connected")

	// ErrBusy is returned when another intent on the same resource has not completed.
	ErrBusy = errors.New("another command is in flight")

	// ErrTransport is returned when the request failed or the bridge answered with an error.
	ErrTransport = errors.New("command transport failed")

	// ErrInvalidIntent is returned for intents that fail validation.
	ErrInvalidIntent = errors.New("invalid command")

	// ErrAlarmed stops a program run at a motion block while the controller is in alarm.
	ErrAlarmed = errors.New("controller is in alarm")
)

// CommandError describes a failed dispatch. It matches one of the
// package sentinels with errors.Is, as well as its Cause.
type CommandError struct {
	Intent Kind
	Err    error

	// Status and Detail are set when the bridge answered with a non-2xx status.
	Status int
	Detail string

	Cause error
}

func (e *CommandError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Intent, e.Detail)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v: %v", e.Intent, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Intent, e.Err)
}

func (e *CommandError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Reason is the operator-facing failure text, without the intent name.
func (e *CommandError) Reason() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Cause != nil:
		return e.Cause.Error()
	}
	return e.Err.Error()
}

// FailureMessage formats err the way it is shown to the operator.
func FailureMessage(in Intent, err error) string {
	if errors.Is(err, ErrNotReady) {
		return "Machine not connected"
	}
	reason := err.Error()
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		reason = cmdErr.Reason()
	}
	return in.Label() + " failed: " + reason
}
