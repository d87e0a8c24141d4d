// SPDX-License-Identifier: GPL-3.0-or-later

// Package resolver implements the pluggable DNS resolver subsystem (spec
// §4.6): a common [Resolver] contract plus plain UDP, DNS-over-TLS,
// DNS-over-HTTPS, DNS-over-QUIC, in-memory, null, system, and composite
// fan-out implementations, all built on [github.com/miekg/dns] for wire
// encoding/decoding.
package resolver

import (
	"net/netip"
	"sort"
)

// SockType mirrors the two socket kinds the original getaddrinfo
// contract distinguishes: stream (TCP/QUIC-as-stream) and datagram
// (UDP/QUIC-as-datagram) results sort differently (spec §4.6's "DGRAM
// precedes STREAM" rule).
type SockType int

const (
	SockUnspecified SockType = iota
	SockStream
	SockDatagram
)

// AddrInfo is one resolved candidate, mirroring a single element of the
// original getaddrinfo's result tuples: a concrete address, the
// transport family it was resolved for, and whether it is a DGRAM
// (preferred for HTTP/3) or STREAM (HTTP/1 or HTTP/2) candidate.
type AddrInfo struct {
	Addr netip.Addr
	Type SockType
}

// Resolver is the abstract name-resolution contract every resolver
// subpackage implements (spec §4.6).
type Resolver interface {
	// GetAddrInfo resolves host for the given family constraint ("ip",
	// "ip4", or "ip6") and socket type. When quicUpgradeViaDNSRR is true
	// and the server advertises an HTTPS RR with "h3" ALPN, a DGRAM
	// variant of every resulting STREAM address is prepended to the
	// returned list so the connection stack prefers QUIC. Literal
	// IPv4/IPv6 inputs short-circuit without issuing a query.
	GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error)

	// IsAvailable reports whether the resolver can still be used.
	IsAvailable() bool

	// Close releases any resources (sockets, connections) the resolver holds.
	Close() error

	// Recycle returns a resolver equivalent to this one once it is no
	// longer available, or itself if it never becomes unavailable. Most
	// implementations are stateless enough to simply return themselves.
	Recycle() Resolver

	// HaveConstraints reports whether this resolver only knows a subset
	// of names (true for the in-memory resolver, false for everything
	// that queries a real upstream).
	HaveConstraints() bool

	// Support reports whether this resolver can answer for hostname. It
	// is only meaningful when HaveConstraints is true; other resolvers
	// always return true.
	Support(hostname string) bool
}

// literalAddr short-circuits resolution for a literal IPv4/IPv6 input,
// mirroring every resolver's "is_ipv4/is_ipv6" fast path.
func literalAddr(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// sortAddrInfo orders results IPv6-before-IPv4, and within each family
// DGRAM-before-STREAM, matching spec §4.6's "Sort order" rule.
func sortAddrInfo(results []AddrInfo) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Addr.Is6() != b.Addr.Is6() {
			return a.Addr.Is6() // IPv6 precedes IPv4
		}
		return a.Type > b.Type // SockDatagram(2) precedes SockStream(1)
	})
}

// preemptQUIC prepends a DGRAM twin of every STREAM result in results
// when httpsRRAdvertisesH3 is true, per spec §4.6's HTTPS RR handling.
func preemptQUIC(results []AddrInfo, httpsRRAdvertisesH3 bool) []AddrInfo {
	if !httpsRRAdvertisesH3 {
		return results
	}
	quic := make([]AddrInfo, 0, len(results))
	for _, r := range results {
		if r.Type == SockStream {
			quic = append(quic, AddrInfo{Addr: r.Addr, Type: SockDatagram})
		} else {
			// A DGRAM result was already explicitly requested; the
			// original implementation treats that as disqualifying the
			// RR-driven upgrade, since the caller already knows what it
			// wants.
			return results
		}
	}
	return append(quic, results...)
}
