package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive    = errors.New("a session is already active")
	ErrNoSession        = errors.New("no active session")
	ErrSessionEnded     = errors.New("session has ended")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTurnInProgress   = errors.New("a turn is already in progress")
	ErrEmptyInput       = errors.New("input is empty")
	ErrInvalidRoll      = errors.New("invalid dice roll")
	ErrModelCall        = errors.New("model call failed")
	ErrNotEnded         = errors.New("session has not ended")
	ErrGuestbookInvalid = errors.New("invalid guestbook entry")
)

// RollError reports a rejected dice input. Prompt is the corrective text
// shown to the player; the pending request is left in place.
type RollError struct {
	Input  string
	Max    int
	Prompt string
}

func (e *RollError) Error() string {
	return fmt.Sprintf("invalid dice roll %q: want a number from 1 to %d", e.Input, e.Max)
}

func (e *RollError) Unwrap() error { return ErrInvalidRoll }

// ModelError reports a failed model call. Narration is the one-line error
// narration already surfaced to the consumer.
type ModelError struct {
	Narration string
	Err       error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *ModelError) Unwrap() []error { return []error{ErrModelCall, e.Err} }
