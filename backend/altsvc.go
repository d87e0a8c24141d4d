// SPDX-License-Identifier: GPL-3.0-or-later

package backend

import (
	"strconv"
	"strings"
	"sync"
)

// AltSvcCache records (host, port) → (authority, port) upgrade hints
// parsed from Alt-Svc response headers that advertised "h3" on the same
// authority and port, per spec §4.3's SVN upgrade rules. The pool
// consults it before connecting, to prefer QUIC; a QUIC connect failure
// invalidates the entry.
//
// Grounded on the teacher's general pattern of small mutex-guarded
// lookup structures (e.g. the resolver caches referenced elsewhere in
// the spec); this one is new, since the teacher has no HTTP layer.
type AltSvcCache struct {
	mu      sync.Mutex
	entries map[string]altSvcEntry
}

type altSvcEntry struct {
	authority string
	port      int
}

// NewAltSvcCache returns an empty cache.
func NewAltSvcCache() *AltSvcCache {
	return &AltSvcCache{entries: make(map[string]altSvcEntry)}
}

// Lookup reports whether host:port has a recorded HTTP/3 upgrade hint.
func (c *AltSvcCache) Lookup(host string, port int) (authority string, upgradePort int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key(host, port)]
	if !ok {
		return "", 0, false
	}
	return e.authority, e.port, true
}

// Invalidate drops any recorded hint for host:port, used after a failed
// QUIC connect attempt.
func (c *AltSvcCache) Invalidate(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(host, port))
}

func key(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// ObserveAltSvc parses the Alt-Svc header value received from host:port
// and, if it advertises h3 on the same authority and port (or no
// authority, meaning the same host), records the upgrade hint. Any
// cross-authority or cross-port advertisement is ignored, per spec
// §4.3's "Cross-authority/cross-port upgrades are rejected" rule.
func (c *AltSvcCache) ObserveAltSvc(host string, port int, altSvc string) {
	if altSvc == "" || altSvc == "clear" {
		return
	}
	for _, entry := range strings.Split(altSvc, ",") {
		protoID, params, ok := parseAltSvcEntry(entry)
		if !ok || protoID != "h3" {
			continue
		}
		authority := host
		upgradePort := port
		if a, p, ok := parseAltSvcAuthority(params); ok {
			if a == "" {
				a = host // ":port" form means "same host" per RFC 7838
			}
			authority, upgradePort = a, p
		}
		if authority != host {
			continue // cross-authority upgrades rejected
		}
		if upgradePort != port {
			continue // cross-port upgrades rejected
		}
		c.mu.Lock()
		c.entries[key(host, port)] = altSvcEntry{authority: authority, port: upgradePort}
		c.mu.Unlock()
		return
	}
}

// parseAltSvcEntry splits one comma-separated Alt-Svc entry, e.g.
// `h3=":443"; ma=3600`, into its protocol id and the remaining
// parameter string.
func parseAltSvcEntry(entry string) (protoID string, params string, ok bool) {
	entry = strings.TrimSpace(entry)
	eq := strings.IndexByte(entry, '=')
	if eq < 0 {
		return "", "", false
	}
	return strings.Trim(entry[:eq], `" `), entry[eq+1:], true
}

// parseAltSvcAuthority extracts "host:port" (or ":port") from the
// quoted alt-authority portion of an Alt-Svc parameter string.
func parseAltSvcAuthority(params string) (host string, port int, ok bool) {
	params = strings.TrimSpace(params)
	semi := strings.IndexByte(params, ';')
	if semi >= 0 {
		params = params[:semi]
	}
	params = strings.Trim(strings.TrimSpace(params), `"`)
	idx := strings.LastIndexByte(params, ':')
	if idx < 0 {
		return "", 0, false
	}
	portStr := params[idx+1:]
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return params[:idx], p, true
}
