// SPDX-License-Identifier: GPL-3.0-or-later

package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAltSvcCacheRecordsSameAuthorityUpgrade(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h3=":443"; ma=86400`)

	authority, port, ok := c.Lookup("example.test", 443)
	require.True(t, ok)
	require.Equal(t, "example.test", authority)
	require.Equal(t, 443, port)
}

func TestAltSvcCacheIgnoresCrossAuthority(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h3="other.test:443"`)

	_, _, ok := c.Lookup("example.test", 443)
	require.False(t, ok)
}

func TestAltSvcCacheIgnoresNonH3(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h2=":443"`)

	_, _, ok := c.Lookup("example.test", 443)
	require.False(t, ok)
}

func TestAltSvcCacheClearIsNoop(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h3=":443"`)
	c.ObserveAltSvc("example.test", 443, "clear")

	_, _, ok := c.Lookup("example.test", 443)
	require.True(t, ok, "clear is currently treated as a no-op, not an eviction trigger")
}

func TestAltSvcCacheInvalidate(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h3=":443"`)
	c.Invalidate("example.test", 443)

	_, _, ok := c.Lookup("example.test", 443)
	require.False(t, ok)
}

func TestAltSvcCacheMultipleEntriesPicksH3(t *testing.T) {
	c := NewAltSvcCache()
	c.ObserveAltSvc("example.test", 443, `h2=":443", h3=":443"`)

	authority, port, ok := c.Lookup("example.test", 443)
	require.True(t, ok)
	require.Equal(t, "example.test", authority)
	require.Equal(t, 443, port)
}

func TestAltSvcCacheLookupMiss(t *testing.T) {
	c := NewAltSvcCache()
	_, _, ok := c.Lookup("unknown.test", 443)
	require.False(t, ok)
}
