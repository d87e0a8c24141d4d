// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bassosimone/httpcore/backend"
	"github.com/bassosimone/httpcore/wsext"
)

func TestSplitHostPortDefaultsPortByScheme(t *testing.T) {
	u, err := url.Parse("https://example.test/path")
	require.NoError(t, err)
	host, port, err := splitHostPort(u)
	require.NoError(t, err)
	require.Equal(t, "example.test", host)
	require.Equal(t, 443, port)

	u, err = url.Parse("http://example.test/path")
	require.NoError(t, err)
	_, port, err = splitHostPort(u)
	require.NoError(t, err)
	require.Equal(t, 80, port)
}

func TestSplitHostPortUsesExplicitPort(t *testing.T) {
	u, err := url.Parse("https://example.test:8443/path")
	require.NoError(t, err)
	_, port, err := splitHostPort(u)
	require.NoError(t, err)
	require.Equal(t, 8443, port)
}

func TestSplitHostPortRejectsMissingHost(t *testing.T) {
	u, err := url.Parse("/just/a/path")
	require.NoError(t, err)
	_, _, err = splitHostPort(u)
	require.Error(t, err)
}

func TestHostHeaderValueOmitsDefaultPort(t *testing.T) {
	require.Equal(t, "example.test", hostHeaderValue("example.test", 443, "https"))
	require.Equal(t, "example.test", hostHeaderValue("example.test", 80, "http"))
	require.Equal(t, "example.test:8443", hostHeaderValue("example.test", 8443, "https"))
}

func TestChooseProtocolPlainHTTPIsAlwaysHTTP1(t *testing.T) {
	c := NewClient(Options{})
	require.Equal(t, backend.ProtocolHTTP1, c.chooseProtocol("http", "example.test", 80))
}

func TestChooseProtocolHTTPSDefaultsToHTTP2(t *testing.T) {
	c := NewClient(Options{})
	require.Equal(t, backend.ProtocolHTTP2, c.chooseProtocol("https", "example.test", 443))
}

func TestChooseProtocolHTTPSPrefersHTTP3WhenAltSvcHinted(t *testing.T) {
	c := NewClient(Options{})
	c.altSvc.ObserveAltSvc("example.test", 443, `h3=":443"`)
	require.Equal(t, backend.ProtocolHTTP3, c.chooseProtocol("https", "example.test", 443))
}

func TestChooseProtocolHonorsDisabledHTTP3(t *testing.T) {
	c := NewClient(Options{DisabledSVN: map[backend.Protocol]bool{backend.ProtocolHTTP3: true}})
	c.altSvc.ObserveAltSvc("example.test", 443, `h3=":443"`)
	require.Equal(t, backend.ProtocolHTTP2, c.chooseProtocol("https", "example.test", 443))
}

func TestNewClientSOCKSProxyDisablesHTTP3(t *testing.T) {
	c := NewClient(Options{SOCKSProxy: "socks5://127.0.0.1:1080"})
	require.True(t, c.opts.DisabledSVN[backend.ProtocolHTTP3])
}

func TestIsUpgradeStatus(t *testing.T) {
	require.True(t, isUpgradeStatus("GET", 101))
	require.True(t, isUpgradeStatus("CONNECT", 200))
	require.False(t, isUpgradeStatus("GET", 200))
	require.False(t, isUpgradeStatus("POST", 201))
}

func TestVersionNumber(t *testing.T) {
	require.Equal(t, 11, versionNumber(backend.ProtocolHTTP1))
	require.Equal(t, 20, versionNumber(backend.ProtocolHTTP2))
	require.Equal(t, 30, versionNumber(backend.ProtocolHTTP3))
}

func TestExtensionSupports(t *testing.T) {
	ws := wsext.NewWebSocketExtension()
	require.True(t, extensionSupports(ws, backend.ProtocolHTTP1))
	require.False(t, extensionSupports(ws, backend.ProtocolHTTP2))

	mws := wsext.NewMultiplexedWebSocketExtension()
	require.True(t, extensionSupports(mws, backend.ProtocolHTTP3))
}

func TestExtensionRequestHeadersHTTP1UsesUpgradeHeaders(t *testing.T) {
	ws := wsext.NewWebSocketExtension()
	headers := extensionRequestHeaders(ws, backend.ProtocolHTTP1)
	var sawUpgrade bool
	for _, h := range headers {
		if h[0] == "Upgrade" && h[1] == "websocket" {
			sawUpgrade = true
		}
	}
	require.True(t, sawUpgrade)
}

func TestExtensionRequestHeadersMultiplexedUsesProtocolPseudoHeader(t *testing.T) {
	mws := wsext.NewMultiplexedWebSocketExtension()
	headers := extensionRequestHeaders(mws, backend.ProtocolHTTP2)
	var sawProtocol bool
	for _, h := range headers {
		if h[0] == ":protocol" && h[1] == "websocket" {
			sawProtocol = true
		}
	}
	require.True(t, sawProtocol)
}

func TestResolveLocationAbsolute(t *testing.T) {
	got := resolveLocation("https://example.test/a", "https://other.test/b")
	require.Equal(t, "https://other.test/b", got)
}

func TestResolveLocationRelative(t *testing.T) {
	got := resolveLocation("https://example.test/a/b", "c")
	require.Equal(t, "https://example.test/a/c", got)
}
