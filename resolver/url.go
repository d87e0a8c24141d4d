// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bassosimone/httpcore"
)

// ParseDescription builds a [Resolver] from a resolver description URL,
// per spec §6: "dou://", "dot://", "doh://", "doq://", "in-memory://",
// "null://", "system://", with query options timeout/hosts/
// implementation/rfc8484/disabled_svn. Only timeout, hosts, and rfc8484
// (plus maxsize for "in-memory://") are consumed here; implementation
// and disabled_svn select amongst
// vendor presets and pool-level protocol restrictions respectively,
// which live above this package (the pool/root-facade layer), not in
// the resolver construction itself.
func ParseDescription(ctx context.Context, description string) (Resolver, error) {
	u, err := url.Parse(description)
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid description %q: %w", description, err)
	}

	timeout := queryDuration(u, "timeout", 5*time.Second)

	switch u.Scheme {
	case "dou":
		host, port := u.Hostname(), queryPort(u)
		r, err := NewDOUResolver(host, port, httpcore.NewConfig(), nil)
		if err != nil {
			return nil, err
		}
		r.timeout = timeout
		return r, nil

	case "dot":
		host, port := u.Hostname(), queryPort(u)
		r, err := NewDOTResolver(host, port, &tls.Config{}, httpcore.NewConfig(), nil)
		if err != nil {
			return nil, err
		}
		r.timeout = timeout
		return r, nil

	case "doq":
		host, port := u.Hostname(), queryPort(u)
		r, err := NewDOQResolver(ctx, host, port, &tls.Config{}, httpcore.NewConfig(), nil)
		if err != nil {
			return nil, err
		}
		r.timeout = timeout
		return r, nil

	case "doh":
		mode := DOHModeRFC8484
		if u.Query().Get("rfc8484") == "0" || u.Query().Get("rfc8484") == "false" {
			mode = DOHModeJSON
		}
		endpoint := (&url.URL{Scheme: "https", Host: u.Host, Path: u.Path}).String()
		r := NewDOHResolver(endpoint, mode, &http.Client{Timeout: timeout}, nil)
		return r, nil

	case "in-memory":
		maxSize := 65535
		if v := u.Query().Get("maxsize"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				maxSize = n
			}
		}
		r := NewInMemoryResolver(maxSize)
		for _, host := range u.Query()["hosts"] {
			registerHostsPattern(r, host)
		}
		return r, nil

	case "null":
		return NewNullResolver(), nil

	case "system":
		return NewSystemResolver(timeout), nil

	default:
		return nil, fmt.Errorf("resolver: unrecognized scheme %q", u.Scheme)
	}
}

func queryPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 0
}

func queryDuration(u *url.URL, key string, def time.Duration) time.Duration {
	v := u.Query().Get(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// registerHostsPattern parses a "hostname:addr" pattern, matching the
// original implementation's in-memory resolver host-pattern bootstrap.
func registerHostsPattern(r *InMemoryResolver, pattern string) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ':' {
			hostname, addrStr := pattern[:i], pattern[i+1:]
			if addr, ok := literalAddr(addrStr); ok {
				r.Register(hostname, addr)
			}
			return
		}
	}
}
