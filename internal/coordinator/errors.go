package coordinator

import "errors"

var (
	// ErrNotFound is returned by ProceedAnyway when the tab has no verdict to override.
	ErrNotFound = errors.New("no verdict for tab")

	// ErrInvalidEvent is returned by Dispatch for an event missing its payload.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnknownEvent is returned by Dispatch for an unsupported event kind.
	ErrUnknownEvent = errors.New("unknown event kind")
)
