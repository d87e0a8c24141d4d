// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/httpcore/errs"
)

// SystemResolver defers to the host operating system's own resolver
// (getaddrinfo(3) via [net.DefaultResolver]), matching spec §6's
// "system://" resolver description URL scheme. Unlike the DNS-message
// resolvers in this package, it does not speak the wire protocol itself;
// it is the fallback every other resolver variant exists to replace.
type SystemResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewSystemResolver returns a [*SystemResolver] using [net.DefaultResolver].
func NewSystemResolver(timeout time.Duration) *SystemResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SystemResolver{resolver: net.DefaultResolver, timeout: timeout}
}

// IsAvailable implements [Resolver].
func (r *SystemResolver) IsAvailable() bool { return true }

// Close implements [Resolver].
func (r *SystemResolver) Close() error { return nil }

// Recycle implements [Resolver].
func (r *SystemResolver) Recycle() Resolver { return r }

// HaveConstraints implements [Resolver].
func (r *SystemResolver) HaveConstraints() bool { return false }

// Support implements [Resolver].
func (r *SystemResolver) Support(hostname string) bool { return true }

// GetAddrInfo implements [Resolver] on top of [net.Resolver.LookupIPAddr].
func (r *SystemResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	if addr, ok := literalAddr(host); ok {
		return []AddrInfo{{Addr: addr, Type: sockType}}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ipAddrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}

	var results []AddrInfo
	for _, ipAddr := range ipAddrs {
		addr, ok := netip.AddrFromSlice(ipAddr.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if family == "ip4" && addr.Is6() {
			continue
		}
		if family == "ip6" && addr.Is4() {
			continue
		}
		results = append(results, AddrInfo{Addr: addr, Type: sockType})
	}
	if len(results) == 0 {
		return nil, errs.NewNameResolution(errs.SubKindNXDomain, host, err)
	}
	sortAddrInfo(results)
	return results, nil
}
