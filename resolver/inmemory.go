// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/bassosimone/httpcore/errs"
)

// InMemoryResolver answers strictly from a caller-populated static map,
// never issuing a real query. Grounded directly on the original
// implementation's InMemoryResolver (in_memory/_dict.py): same
// register/clear/support contract, same "bounded by maxsize, evict an
// arbitrary entry once exceeded" admission rule.
type InMemoryResolver struct {
	mu      sync.Mutex
	maxSize int
	hosts   map[string][]netip.Addr
}

// NewInMemoryResolver returns a resolver with no registered hosts,
// bounded to maxSize distinct hostnames (0 means unbounded).
func NewInMemoryResolver(maxSize int) *InMemoryResolver {
	return &InMemoryResolver{maxSize: maxSize, hosts: make(map[string][]netip.Addr)}
}

// Register records that hostname resolves to addr, ignoring the
// duplicate if already present.
func (r *InMemoryResolver) Register(hostname string, addr netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.hosts[hostname] {
		if existing == addr {
			return
		}
	}
	r.hosts[hostname] = append(r.hosts[hostname], addr)
	if r.maxSize > 0 && len(r.hosts) > r.maxSize {
		for k := range r.hosts {
			delete(r.hosts, k)
			break
		}
	}
}

// Clear removes every registered address for hostname.
func (r *InMemoryResolver) Clear(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, hostname)
}

// IsAvailable implements [Resolver]; the in-memory resolver never expires.
func (r *InMemoryResolver) IsAvailable() bool { return true }

// Close implements [Resolver].
func (r *InMemoryResolver) Close() error { return nil }

// Recycle implements [Resolver].
func (r *InMemoryResolver) Recycle() Resolver { return r }

// HaveConstraints implements [Resolver]: it only ever knows a subset of
// names, by construction.
func (r *InMemoryResolver) HaveConstraints() bool { return true }

// Support implements [Resolver].
func (r *InMemoryResolver) Support(hostname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hosts[hostname]
	return ok
}

// GetAddrInfo implements [Resolver].
func (r *InMemoryResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	if addr, ok := literalAddr(host); ok {
		return []AddrInfo{{Addr: addr, Type: sockType}}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, errs.NewNameResolution(errs.SubKindNXDomain, host,
			fmt.Errorf("no records found for hostname %s in-memory", host))
	}

	var results []AddrInfo
	for _, addr := range addrs {
		if family == "ip4" && addr.Is6() {
			continue
		}
		if family == "ip6" && addr.Is4() {
			continue
		}
		results = append(results, AddrInfo{Addr: addr, Type: sockType})
	}
	if len(results) == 0 {
		return nil, errs.NewNameResolution(errs.SubKindNXDomain, host,
			fmt.Errorf("no records found for hostname %s in-memory", host))
	}
	sortAddrInfo(results)
	return results, nil
}
