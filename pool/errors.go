package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by Acquire once the pool was closed.
	ErrClosed = errors.New("pool: closed")
	// ErrReleased is returned when a lease is used after Release.
	ErrReleased = errors.New("pool: lease already released")
)

// CreateError reports that a new link could not be created. The pool does
// not retry.
type CreateError struct {
	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("pool: create link: %v", e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// ExhaustedError reports that the caller gave up while every link was leased.
type ExhaustedError struct {
	Capacity int
	Waited   time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool: all %d links in use after waiting %s: %v", e.Capacity, e.Waited.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
