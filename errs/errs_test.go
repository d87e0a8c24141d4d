// SPDX-License-Identifier: GPL-3.0-or-later

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// New wraps the cause and reports it through Error and Unwrap.
func TestNew(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindSSL, "handshake", cause)

	require.Error(t, err)
	assert.Equal(t, KindSSL, err.Kind)
	assert.Equal(t, "handshake", err.Op)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "SSLError")
	assert.Contains(t, err.Error(), "boom")
}

// Error renders without a cause when none is set.
func TestNewNilCause(t *testing.T) {
	err := New(KindResponseNotReady, "getresponse", nil)
	assert.NotContains(t, err.Error(), "<nil>")
	assert.Contains(t, err.Error(), "ResponseNotReady")
}

// Is matches the kind through wrapping layers.
func TestIs(t *testing.T) {
	base := New(KindConnectTimeout, "connect", errors.New("i/o timeout"))
	wrapped := fmt.Errorf("pool: borrow failed: %w", base)

	assert.True(t, Is(wrapped, KindConnectTimeout))
	assert.False(t, Is(wrapped, KindReadTimeout))
	assert.False(t, Is(errors.New("unrelated"), KindConnectTimeout))
}

// NewNameResolution carries the sub-kind and host through the chain.
func TestNewNameResolution(t *testing.T) {
	cause := errors.New("SERVFAIL")
	err := NewNameResolution(SubKindServfail, "example.invalid", cause)

	require.Error(t, err)
	assert.Equal(t, SubKindServfail, err.SubKind)
	assert.Equal(t, "example.invalid", err.Host)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "servfail")
	assert.Contains(t, err.Error(), "example.invalid")
}

// IsNameResolution matches on sub-kind when provided, and matches any
// sub-kind when the filter is empty.
func TestIsNameResolution(t *testing.T) {
	err := NewNameResolution(SubKindNXDomain, "no.such.host", nil)
	wrapped := fmt.Errorf("resolve: %w", err)

	assert.True(t, IsNameResolution(wrapped, SubKindNXDomain))
	assert.False(t, IsNameResolution(wrapped, SubKindServfail))
	assert.True(t, IsNameResolution(wrapped, ""))
	assert.False(t, IsNameResolution(errors.New("unrelated"), ""))
}
