package fourchan

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed thread fetch.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindUnreachable
	KindTimeout
	KindBoardNotFound
	KindThreadNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindBoardNotFound:
		return "board not found"
	case KindThreadNotFound:
		return "thread not found"
	default:
		return "unexpected"
	}
}

// Error is the typed failure returned by FetchThread.
type Error struct {
	Kind   ErrorKind
	Board  string
	Thread string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s/%s: %s: %v", e.Board, e.Thread, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s/%s: %s", e.Board, e.Thread, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-board or missing-thread fetch
// failure.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindBoardNotFound || e.Kind == KindThreadNotFound
	}
	return false
}
