// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"fmt"

	"github.com/bassosimone/httpcore/errs"
)

// NullResolver rejects every non-literal hostname, used to force a pool
// to only ever dial literal IP addresses (e.g. in a SOCKS-proxied or
// otherwise pre-resolved deployment). Grounded on spec §6's
// "null://" resolver description URL scheme; the original implementation
// has no file of its own for it (it is a few lines inline in the
// resolver registry), so this is a direct, minimal port of that
// behavior rather than a port of a specific source file.
type NullResolver struct{}

// NewNullResolver returns a [*NullResolver].
func NewNullResolver() *NullResolver { return &NullResolver{} }

// IsAvailable implements [Resolver].
func (r *NullResolver) IsAvailable() bool { return true }

// Close implements [Resolver].
func (r *NullResolver) Close() error { return nil }

// Recycle implements [Resolver].
func (r *NullResolver) Recycle() Resolver { return r }

// HaveConstraints implements [Resolver].
func (r *NullResolver) HaveConstraints() bool { return true }

// Support implements [Resolver]: only literal addresses are supported.
func (r *NullResolver) Support(hostname string) bool {
	_, ok := literalAddr(hostname)
	return ok
}

// GetAddrInfo implements [Resolver].
func (r *NullResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	if addr, ok := literalAddr(host); ok {
		return []AddrInfo{{Addr: addr, Type: sockType}}, nil
	}
	return nil, errs.NewNameResolution(errs.SubKindTransport, host,
		fmt.Errorf("null resolver cannot resolve non-literal hostnames"))
}
