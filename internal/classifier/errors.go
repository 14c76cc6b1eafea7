package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when no API key is stored. No request is attempted.
	ErrMissingCredential = errors.New("credential missing")

	// ErrInvalidResponse covers classifier output that is not JSON or lacks required fields.
	ErrInvalidResponse = errors.New("invalid classifier response")

	// ErrUnrecognizedStatus is returned alongside a SUSPICIOUS verdict when the status is unknown.
	ErrUnrecognizedStatus = errors.New("unrecognized classifier status")
)

// TransportError describes a failed call to the model API: network errors, timeouts and non-2xx answers.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classifier request failed with status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("classifier request failed: %s", e.Detail)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
