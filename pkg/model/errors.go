package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two upstream failure classes.
var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamStream      = errors.New("upstream stream error")
)

// UnreachableError reports that a generation request could not be started:
// the connection failed or the backend answered with a non-success status.
type UnreachableError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UnreachableError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream unreachable [%d] at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("upstream unreachable at %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("upstream unreachable at %s: %s", e.Endpoint, e.Message)
	}
}

// Is matches ErrUpstreamUnreachable.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrUpstreamUnreachable
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// StreamError reports that an established stream ended abnormally.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("upstream stream error: %v", e.Err)
}

// Is matches ErrUpstreamStream.
func (e *StreamError) Is(target error) bool {
	return target == ErrUpstreamStream
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
