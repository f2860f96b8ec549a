package domain

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeAuth             Code = "AUTH_ERROR"
	CodeNotAuthenticated Code = "NOT_AUTHENTICATED"
	CodeRoomNotFound     Code = "ROOM_NOT_FOUND"
	CodeCallNotFound     Code = "CALL_NOT_FOUND"
	CodeUserOffline      Code = "USER_OFFLINE"
	CodeCallInProgress   Code = "CALL_IN_PROGRESS"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeDependency       Code = "DEPENDENCY_ERROR"
	CodeBadPayload       Code = "BAD_PAYLOAD"
	CodeRateLimited      Code = "RATE_LIMITED"
)

// Error is a recoverable failure that is reported to the originating connection.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrAuth             = &Error{Code: CodeAuth, Message: "invalid or missing token"}
	ErrNotAuthenticated = &Error{Code: CodeNotAuthenticated, Message: "user not authenticated"}
	ErrRoomNotFound     = &Error{Code: CodeRoomNotFound, Message: "room not found"}
	ErrCallNotFound     = &Error{Code: CodeCallNotFound, Message: "call no longer exists"}
	ErrUserOffline      = &Error{Code: CodeUserOffline, Message: "recipient is offline"}
	ErrCallInProgress   = &Error{Code: CodeCallInProgress, Message: "user is already in a call"}
	ErrUnauthorized     = &Error{Code: CodeUnauthorized, Message: "not a member of this room or call"}
	ErrDependency       = &Error{Code: CodeDependency, Message: "internal error, try again later"}
	ErrBadPayload       = &Error{Code: CodeBadPayload, Message: "bad payload"}
	ErrRateLimited      = &Error{Code: CodeRateLimited, Message: "too many requests"}
)

// Errorf derives an error of the same code with a more specific message.
func (e *Error) Errorf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a store, cache, identity or sink failure.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: CodeDependency, Message: op, Err: err}
}

// AsError maps any error to a wire-safe *Error. Causes never leak to clients.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		if de.Code == CodeDependency {
			return ErrDependency
		}
		return &Error{Code: de.Code, Message: de.Message}
	}
	return ErrDependency
}
