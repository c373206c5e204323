package request

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomGone is returned when the server answers a chat fetch
	// with 412, meaning the room no longer exists upstream. It is a
	// first-class outcome, not a failure of the sync cycle.
	ErrRoomGone = errors.New("room no longer exists upstream")

	// ErrQueueFull signals dispatcher back pressure. Transient; the
	// caller retries on the next poll.
	ErrQueueFull = errors.New("request queue is full")

	// ErrDispatcherClosed resolves replies of requests that were still
	// queued when the dispatcher shut down.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// RequestError is a transport-level failure: a connection error or a
// non-success HTTP status. It carries enough context for diagnostics.
type RequestError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// DecodeError means the server was reachable but sent a payload that
// does not match the expected schema. Kept distinct from RequestError
// so callers can tell "unreachable" apart from "unintelligible".
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %s", e.URL, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
