package connecting

import (
	"errors"

	"umi3dconnect/internal/discovery"
	"umi3dconnect/internal/environment"
	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/library"
	"umi3dconnect/internal/media"
)

var ErrNotRetryable = errors.New("nothing to retry")

type ErrorKind int

const (
	// KindNetwork covers unreachable servers, exhausted retries and timeouts.
	KindNetwork ErrorKind = iota
	// KindDeclined is an intentional abort by the user or the environment.
	KindDeclined
	// KindLost is a drop after the environment was joined.
	KindLost
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDeclined:
		return "declined"
	case KindLost:
		return "lost"
	}
	return "unknown"
}

type Action string

const (
	ActionLeave Action = "leave"
	ActionRetry Action = "retry"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Actions lists what the user may do about the error.
func (e *Error) Actions() []Action {
	switch e.Kind {
	case KindNetwork:
		return []Action{ActionLeave}
	case KindLost:
		return []Action{ActionRetry, ActionLeave}
	}
	return nil
}

// Classify maps any pipeline error onto one of the three kinds.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var rejected *environment.RejectedError
	switch {
	case errors.Is(err, library.ErrDeclined),
		errors.Is(err, identity.ErrCancelled),
		errors.As(err, &rejected):
		return &Error{Kind: KindDeclined, Message: err.Error(), Err: err}
	case errors.Is(err, discovery.ErrNoSessions):
		return &Error{Kind: KindNetwork, Message: "no sessions found", Err: err}
	case errors.Is(err, discovery.ErrTimeout):
		return &Error{Kind: KindNetwork, Message: "the master server did not answer", Err: err}
	}

	var mediaErr *media.Error
	if errors.As(err, &mediaErr) {
		return &Error{Kind: KindNetwork, Message: mediaErr.Error(), Err: err}
	}
	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}
