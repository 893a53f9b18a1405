package nellebot

import (
	"errors"
	"fmt"
)

var (
	ErrNoHandler         = errors.New("no handler registered")
	ErrDuplicateHandler  = errors.New("more than one handler registered")
	ErrUnknownJob        = errors.New("unknown job")
	ErrJobNotRunning     = errors.New("job not running")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrQueueFull         = errors.New("queue full")
	ErrRoleNotFound      = errors.New("role not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrChannelNotFound   = errors.New("channel not found")
)

// UserInputError is returned by handlers when a command's arguments
// are invalid. The message is shown to the invoking user, and is
// not reported to the error log channel.
type UserInputError struct {
	Message string
}

func NewUserInputError(format string, args ...any) *UserInputError {
	if len(args) == 0 {
		return &UserInputError{Message: format}
	}
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}

func (e *UserInputError) Error() string {
	return e.Message
}

// InteractionError is an error bound to a specific interaction. It is
// shown (ephemerally) via that interaction, and logged.
type InteractionError struct {
	Interaction SlashContext
	Err         error
}

func NewInteractionError(ictx SlashContext, err error) *InteractionError {
	return &InteractionError{Interaction: ictx, Err: err}
}

func (e *InteractionError) Error() string {
	if e.Err == nil {
		return "interaction failed"
	}
	return e.Err.Error()
}

func (e *InteractionError) Unwrap() error {
	return e.Err
}
