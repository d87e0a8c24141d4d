// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/bassosimone/httpcore"
	"github.com/bassosimone/httpcore/errs"
)

// DOUResolver is a minimalist DNS-over-UDP resolver (RFC 1035), the Go
// counterpart of the teacher's (now superseded) DNSOverUDPConn and of
// the original implementation's PlainResolver. Where the teacher used
// its own private dnscodec module for wire encoding, this resolver uses
// [github.com/miekg/dns], a real, widely-used third-party DNS library.
type DOUResolver struct {
	mu      sync.Mutex
	conn    net.Conn
	client  *dns.Client
	log     exchangeLogContext
	timeout time.Duration
	closed  bool
}

// NewDOUResolver dials server:port (port defaults to 53) over UDP.
func NewDOUResolver(server string, port int, cfg *httpcore.Config, logger httpcore.SLogger) (*DOUResolver, error) {
	if port == 0 {
		port = 53
	}
	if cfg == nil {
		cfg = httpcore.NewConfig()
	}
	if logger == nil {
		logger = httpcore.DefaultSLogger()
	}
	addr := net.JoinHostPort(server, fmt.Sprintf("%d", port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errs.New(errs.KindNewConnection, "resolver.dou.dial", err)
	}
	return &DOUResolver{
		conn:   conn,
		client: &dns.Client{Net: "udp"},
		log: exchangeLogContext{
			errClassifier:  cfg.ErrClassifier,
			logger:         logger,
			serverProtocol: "dou",
			remoteAddr:     addr,
			timeNow:        cfg.TimeNow,
		},
		timeout: 5 * time.Second,
	}, nil
}

// IsAvailable implements [Resolver].
func (r *DOUResolver) IsAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close implements [Resolver].
func (r *DOUResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}

// Recycle implements [Resolver].
func (r *DOUResolver) Recycle() Resolver { return r }

// HaveConstraints implements [Resolver].
func (r *DOUResolver) HaveConstraints() bool { return false }

// Support implements [Resolver].
func (r *DOUResolver) Support(hostname string) bool { return true }

// GetAddrInfo implements [Resolver].
func (r *DOUResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	if addr, ok := literalAddr(host); ok {
		return []AddrInfo{{Addr: addr, Type: sockType}}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, fmt.Errorf("resolver closed"))
	}
	return exchangeOverConn(r.client, &dns.Conn{Conn: r.conn}, &r.log, r.timeout, host, family, sockType, quicUpgradeViaDNSRR)
}

// exchangeOverConn issues the A/AAAA (and optionally HTTPS) queries for
// host over conn and assembles the sorted [AddrInfo] result list,
// shared by [DOUResolver] and [DOTResolver] since both only differ in
// how the underlying [net.Conn] was established.
func exchangeOverConn(client *dns.Client, conn *dns.Conn, log *exchangeLogContext, timeout time.Duration,
	host, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	var qtypes []uint16
	if family != "ip6" {
		qtypes = append(qtypes, dns.TypeA)
	}
	if family != "ip4" {
		qtypes = append(qtypes, dns.TypeAAAA)
	}
	if quicUpgradeViaDNSRR && sockType != SockDatagram {
		qtypes = append(qtypes, dns.TypeHTTPS)
	}

	var results []AddrInfo
	httpsAdvertisesH3 := false

	for _, qtype := range qtypes {
		t0 := log.timeNow()
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		log.logStart(t0, t0.Add(timeout))
		raw, _ := msg.Pack()
		log.logQuery(t0, raw)

		resp, _, err := client.ExchangeWithConnContext(deadlineContext(timeout), msg, conn)
		log.logDone(t0, t0.Add(timeout), err)
		if err != nil {
			return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
		}
		rawResp, _ := resp.Pack()
		log.logResponse(t0, raw, rawResp)

		if err := classifyRcode(resp.Rcode, host); err != nil {
			return nil, err
		}

		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addr, _ := netip.AddrFromSlice(v.A.To4())
				results = append(results, AddrInfo{Addr: addr, Type: sockType})
			case *dns.AAAA:
				addr, _ := netip.AddrFromSlice(v.AAAA.To16())
				results = append(results, AddrInfo{Addr: addr, Type: sockType})
			case *dns.HTTPS:
				for _, kv := range v.Value {
					if kv.Key() == dns.SVCB_ALPN && alpnValueHasH3(kv.String()) {
						httpsAdvertisesH3 = true
					}
				}
			}
		}
	}

	results = preemptQUIC(results, httpsAdvertisesH3)
	sortAddrInfo(results)
	if len(results) == 0 {
		return nil, errs.NewNameResolution(errs.SubKindNXDomain, host, fmt.Errorf("no records found"))
	}
	return results, nil
}

func alpnValueHasH3(s string) bool {
	for _, tok := range splitComma(s) {
		if tok == "h3" {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// classifyRcode maps a DNS RCODE onto the taxonomy's name-resolution
// sub-kinds, per spec §4.6's "RCODE handling" paragraph: RCODE 2
// (SERVFAIL) is surfaced as a DNSSEC-validation-failure hint, RCODE 3
// (NXDOMAIN) as the nxdomain sub-kind, and any other nonzero code as a
// generic resolution error under the servfail sub-kind.
func classifyRcode(rcode int, host string) error {
	switch rcode {
	case dns.RcodeSuccess:
		return nil
	case dns.RcodeServerFailure:
		return errs.NewNameResolution(errs.SubKindDNSSEC, host,
			fmt.Errorf("SERVFAIL, possible DNSSEC validation failure"))
	case dns.RcodeNameError:
		return errs.NewNameResolution(errs.SubKindNXDomain, host, fmt.Errorf("NXDOMAIN"))
	default:
		return errs.NewNameResolution(errs.SubKindServfail, host,
			fmt.Errorf("DNS returned rcode %d", rcode))
	}
}
