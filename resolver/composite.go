// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import "fmt"

// CompositeResolver evaluates a list of registered resolvers in order,
// per spec §4.6: a resolver with [Resolver.HaveConstraints] true is
// tried only if [Resolver.Support] reports true for the hostname; the
// first resolver to succeed wins; if every eligible resolver fails, a
// resolution error is returned.
type CompositeResolver struct {
	resolvers []Resolver
}

// NewCompositeResolver returns a [*CompositeResolver] trying resolvers
// in the given order.
func NewCompositeResolver(resolvers ...Resolver) *CompositeResolver {
	return &CompositeResolver{resolvers: resolvers}
}

// IsAvailable implements [Resolver]: available iff at least one member is.
func (r *CompositeResolver) IsAvailable() bool {
	for _, sub := range r.resolvers {
		if sub.IsAvailable() {
			return true
		}
	}
	return false
}

// Close implements [Resolver], closing every member and returning the
// first error encountered, if any.
func (r *CompositeResolver) Close() error {
	var firstErr error
	for _, sub := range r.resolvers {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recycle implements [Resolver], replacing in place each member that
// reports itself unavailable with that member's own Recycle result.
func (r *CompositeResolver) Recycle() Resolver {
	for i, sub := range r.resolvers {
		if !sub.IsAvailable() {
			r.resolvers[i] = sub.Recycle()
		}
	}
	return r
}

// HaveConstraints implements [Resolver]: a composite resolver never
// restricts which hostnames it can be asked about; its members do.
func (r *CompositeResolver) HaveConstraints() bool { return false }

// Support implements [Resolver].
func (r *CompositeResolver) Support(hostname string) bool { return true }

// GetAddrInfo implements [Resolver].
func (r *CompositeResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	var lastErr error
	tried := false
	for _, sub := range r.resolvers {
		if !sub.IsAvailable() {
			continue
		}
		if sub.HaveConstraints() && !sub.Support(host) {
			continue
		}
		tried = true
		results, err := sub.GetAddrInfo(host, family, sockType, quicUpgradeViaDNSRR)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	if !tried {
		return nil, fmt.Errorf("resolver: no eligible resolver for host %q", host)
	}
	return nil, lastErr
}
