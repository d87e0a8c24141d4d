// SPDX-License-Identifier: GPL-3.0-or-later

// Package runtimex contains small runtime invariant helpers.
//
// These helpers exist to make programming errors (as opposed to runtime
// errors that callers should handle) panic loudly and immediately, instead
// of propagating as a confusing nil pointer dereference several frames away.
package runtimex

import "fmt"

// Assert panics with msg if cond is false.
//
// Use this to check invariants that must hold in correct code (e.g., a
// required constructor argument is not nil). Never use this to validate
// external input.
func Assert(cond bool, msg string) {
	if !cond {
		panic(fmt.Sprintf("runtimex: assertion failed: %s", msg))
	}
}

// PanicOnError panics if err is not nil.
func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicOnError1 panics if err is not nil, otherwise returns value.
func PanicOnError1[T any](value T, err error) T {
	PanicOnError(err)
	return value
}
