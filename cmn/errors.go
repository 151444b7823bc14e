// Package cmn holds the gateway-wide ambient concerns (config, errors)
// shared by every engine, the way aistore's own cmn package backs the
// whole cluster.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package cmn

import (
	"github.com/pkg/errors"
)

// ErrKind enumerates the error taxonomy surfaced to replication/GC
// callers (spec §7). The zero value, ErrNone, means "no error yet".
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrNoReplicas
	ErrLocalIO
	ErrTransport
	ErrNotFound
	ErrPermissionDenied
	ErrRemoteIO
	ErrTimeout
	ErrCancelled
)

func (k ErrKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrNoReplicas:
		return "no-replicas"
	case ErrLocalIO:
		return "local-io"
	case ErrTransport:
		return "transport"
	case ErrNotFound:
		return "not-found"
	case ErrPermissionDenied:
		return "permission-denied"
	case ErrRemoteIO:
		return "remote-io"
	case ErrTimeout:
		return "timeout"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// severity orders error kinds so that "the worst error wins" (spec
// §4.2, §7) can be expressed as a simple numeric comparison. Higher is
// worse. ErrCancelled is deliberately the least severe of the
// non-none kinds, so any other failure on another leg outranks it; a
// waiter whose context was cancelled and saw no other failure does
// receive ErrCancelled.
var severity = map[ErrKind]int{
	ErrNone:             0,
	ErrCancelled:        1,
	ErrNotFound:         2,
	ErrPermissionDenied: 3,
	ErrRemoteIO:         4,
	ErrTransport:        5,
	ErrLocalIO:          6,
	ErrTimeout:          7,
	ErrNoReplicas:       8,
}

func (k ErrKind) Severity() int { return severity[k] }

// Worse returns whichever of a, b is the more severe kind.
func Worse(a, b ErrKind) ErrKind {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Error wraps an ErrKind with the underlying cause, preserving a
// pkg/errors stack so that LocalIO/Transport failures can still be
// traced back to the fopen/stat/Do call that produced them.
type Error struct {
	Kind  ErrKind
	cause error
}

func NewError(kind ErrKind, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Cause() error {
	if e.cause == nil {
		return e
	}
	return errors.Cause(e.cause)
}

// KindOf extracts the ErrKind carried by err, ErrNone if err is nil,
// and ErrRemoteIO for any error that didn't originate from NewError
// (defensive default for the rare third-party error that slips through).
func KindOf(err error) ErrKind {
	if err == nil {
		return ErrNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrRemoteIO
}
