// SPDX-License-Identifier: GPL-3.0-or-later

// Package errs defines the caller-visible error taxonomy for httpcore.
//
// Each error kind is a distinct, typed value so callers can use [errors.As]
// or [errors.Is] instead of matching substrings in an error message (the
// approach the original Python implementation used, and which this design
// replaces per its own design notes).
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a category of error in the httpcore taxonomy.
type Kind string

// Recognized error kinds. See spec §7.
const (
	KindConnectTimeout      Kind = "ConnectTimeout"
	KindReadTimeout         Kind = "ReadTimeout"
	KindWriteTimeout        Kind = "WriteTimeout"
	KindNewConnection       Kind = "NewConnectionError"
	KindProtocol            Kind = "ProtocolError"
	KindSSL                 Kind = "SSLError"
	KindMaxRetriesExceeded  Kind = "MaxRetriesExceeded"
	KindResponseNotReady    Kind = "ResponseNotReady"
	KindEarlyResponse       Kind = "EarlyResponse"
	KindNameResolution      Kind = "NameResolution"
)

// NameResolutionSubKind further classifies a [KindNameResolution] error.
type NameResolutionSubKind string

// Recognized name-resolution sub-kinds. See spec §7.
const (
	SubKindDNSSEC    NameResolutionSubKind = "dnssec"
	SubKindNXDomain  NameResolutionSubKind = "nxdomain"
	SubKindServfail  NameResolutionSubKind = "servfail"
	SubKindTransport NameResolutionSubKind = "transport"
)

// Error is the concrete error type carrying a [Kind] and an optional
// wrapped cause.
type Error struct {
	// Kind categorizes this error.
	Kind Kind

	// Op names the operation that failed (e.g., "connect", "getresponse").
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("httpcore: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("httpcore: %s: %s", e.Op, e.Kind)
}

// Unwrap returns the wrapped cause, enabling [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an [*Error] of the given kind for operation op, wrapping
// cause (which may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	if kind == KindNameResolution {
		var nr *NameResolutionError
		if errors.As(err, &nr) {
			return true
		}
	}
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// NameResolutionError is the concrete error for [KindNameResolution],
// carrying the additional sub-kind distinction spec §7 requires.
type NameResolutionError struct {
	SubKind NameResolutionSubKind
	Host    string
	Err     error
}

// Error implements the error interface.
func (e *NameResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("httpcore: NameResolution(%s): %s: %v", e.SubKind, e.Host, e.Err)
	}
	return fmt.Sprintf("httpcore: NameResolution(%s): %s", e.SubKind, e.Host)
}

// Unwrap returns the wrapped cause.
func (e *NameResolutionError) Unwrap() error {
	return e.Err
}

// asKindError returns e wrapped in an [*Error] of kind [KindNameResolution].
// [Is] recognizes a [*NameResolutionError] directly, without this wrapper.
func (e *NameResolutionError) asKindError() *Error {
	return &Error{Kind: KindNameResolution, Op: "resolve", Err: e}
}

// NewNameResolution constructs a [*NameResolutionError].
func NewNameResolution(sub NameResolutionSubKind, host string, cause error) *NameResolutionError {
	return &NameResolutionError{SubKind: sub, Host: host, Err: cause}
}

// IsNameResolution reports whether err is a [*NameResolutionError] and, if
// sub is non-empty, that its sub-kind matches.
func IsNameResolution(err error, sub NameResolutionSubKind) bool {
	var e *NameResolutionError
	if !errors.As(err, &e) {
		return false
	}
	return sub == "" || e.SubKind == sub
}
