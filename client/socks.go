// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"

	"github.com/bassosimone/httpcore"
)

// socksDialer adapts a [golang.org/x/net/proxy.Dialer] to
// [httpcore.Dialer], so [httpcore.NewConnectFunc] can drive a SOCKS5
// proxy exactly like a direct dial. SOCKS4 and SOCKS4a are not spoken.
// Only TCP is supported: SOCKS has no datagram mode
// usable for QUIC, which is why [Options.SOCKSProxy] forces h3 into
// [Options.DisabledSVN] (spec §6's "Environment" paragraph: "the SOCKS
// module refuses to coexist with an HTTP/3 pool").
type socksDialer struct {
	inner proxy.Dialer
}

var _ httpcore.Dialer = socksDialer{}

// newSOCKSDialer parses a "socks5://[user:pass@]host:port" description
// and returns a [socksDialer] proxying through it. The URL scheme is not
// inspected: every description is dialed as SOCKS5.
func newSOCKSDialer(description string) (socksDialer, error) {
	u, err := url.Parse(description)
	if err != nil {
		return socksDialer{}, fmt.Errorf("client: invalid SOCKS proxy %q: %w", description, err)
	}
	var auth *proxy.Auth
	if u.User != nil {
		auth = &proxy.Auth{User: u.User.Username()}
		if pw, ok := u.User.Password(); ok {
			auth.Password = pw
		}
	}
	network := "tcp"
	d, err := proxy.SOCKS5(network, u.Host, auth, proxy.Direct)
	if err != nil {
		return socksDialer{}, fmt.Errorf("client: SOCKS5 dialer: %w", err)
	}
	return socksDialer{inner: d}, nil
}

// DialContext implements [httpcore.Dialer]. When the underlying
// [golang.org/x/net/proxy.Dialer] also implements
// [proxy.ContextDialer] (the SOCKS5 implementation does), the context
// is honored for cancellation/timeout; otherwise the dial proceeds
// uncancellably, matching the upstream package's own fallback.
func (d socksDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := d.inner.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return d.inner.Dial(network, address)
}
