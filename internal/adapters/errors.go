package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an adapter failure by how the assistant should react.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindValidation    Kind = "validation"
	KindRemote        Kind = "remote"
	KindTimeout       Kind = "timeout"
	KindContentPolicy Kind = "content_policy"
	KindFormat        Kind = "format"
	KindNotConfigured Kind = "not_configured"
)

var (
	ErrAuth          = errors.New("authentication failed")
	ErrValidation    = errors.New("request rejected")
	ErrRemote        = errors.New("remote service error")
	ErrTimeout       = errors.New("timed out")
	ErrContentPolicy = errors.New("content policy violation")
	ErrFormat        = errors.New("unsupported format")
	ErrNotConfigured = errors.New("capability not configured")
)

var sentinels = map[Kind]error{
	KindAuth:          ErrAuth,
	KindValidation:    ErrValidation,
	KindRemote:        ErrRemote,
	KindTimeout:       ErrTimeout,
	KindContentPolicy: ErrContentPolicy,
	KindFormat:        ErrFormat,
	KindNotConfigured: ErrNotConfigured,
}

// Error is the failure type returned by every adapter.
type Error struct {
	Kind Kind
	Op   string
	// Message is safe to show to the user. Only validation and content
	// policy failures carry one.
	Message string
	Err     error
}

func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, sentinels[e.Kind])
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrAuth)
// works on any *Error of kind auth.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Classify maps any error to a Kind. Unknown errors count as remote.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindRemote
}

// UserMessage returns the user-facing detail carried by err, if any.
func UserMessage(err error) string {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	return ""
}
