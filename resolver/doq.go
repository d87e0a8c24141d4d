// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"

	"github.com/bassosimone/httpcore"
	"github.com/bassosimone/httpcore/errs"
)

// DOQResolver is a DNS-over-QUIC resolver (RFC 9250): one bidirectional
// QUIC stream per query, each message length-prefixed with an unsigned
// 16-bit big-endian count, ALPN "doq". Grounded on the original
// implementation's QUICResolver (_qh3.py), which layers the same
// length-prefix framing over a qh3 QuicConnection; here the QUIC
// transport is the teacher's own indirect dependency
// [github.com/quic-go/quic-go] (already promoted to direct by
// engine/h3), used here in its straightforward blocking-dial mode since
// this resolver, unlike engine/h3, has no sans-I/O requirement.
type DOQResolver struct {
	mu      sync.Mutex
	conn    quic.Connection
	log     exchangeLogContext
	timeout time.Duration
	closed  bool
}

// NewDOQResolver dials server:port (port defaults to 853) over QUIC.
func NewDOQResolver(ctx context.Context, server string, port int, tlsConfig *tls.Config, cfg *httpcore.Config, logger httpcore.SLogger) (*DOQResolver, error) {
	if port == 0 {
		port = 853
	}
	if cfg == nil {
		cfg = httpcore.NewConfig()
	}
	if logger == nil {
		logger = httpcore.DefaultSLogger()
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	tlsConfig = tlsConfig.Clone()
	tlsConfig.NextProtos = []string{"doq"}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = server
	}

	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{MaxIdleTimeout: 300 * time.Second})
	if err != nil {
		return nil, errs.New(errs.KindNewConnection, "resolver.doq.dial", err)
	}

	return &DOQResolver{
		conn: conn,
		log: exchangeLogContext{
			errClassifier:  cfg.ErrClassifier,
			logger:         logger,
			serverProtocol: "doq",
			remoteAddr:     addr,
			timeNow:        cfg.TimeNow,
		},
		timeout: 5 * time.Second,
	}, nil
}

// IsAvailable implements [Resolver].
func (r *DOQResolver) IsAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close implements [Resolver].
func (r *DOQResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.CloseWithError(0, "")
}

// Recycle implements [Resolver].
func (r *DOQResolver) Recycle() Resolver { return r }

// HaveConstraints implements [Resolver].
func (r *DOQResolver) HaveConstraints() bool { return false }

// Support implements [Resolver].
func (r *DOQResolver) Support(hostname string) bool { return true }

// GetAddrInfo implements [Resolver], opening one fresh QUIC stream per
// query per RFC 9250 §4.2's "one stream per query/response" mandate.
func (r *DOQResolver) GetAddrInfo(host string, family string, sockType SockType, quicUpgradeViaDNSRR bool) ([]AddrInfo, error) {
	if addr, ok := literalAddr(host); ok {
		return []AddrInfo{{Addr: addr, Type: sockType}}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, fmt.Errorf("resolver closed"))
	}

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
		resp, err := r.exchangeOne(host, qtype)
		if err != nil {
			return nil, err
		}
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

func (r *DOQResolver) exchangeOne(host string, qtype uint16) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	stream, err := r.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	defer stream.Close()

	msg := new(dns.Msg)
	// SetQuestion below replaces this zero id with a random 16-bit one,
	// so the query goes out with a random id as on the other transports.
	msg.Id = 0
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	t0 := r.log.timeNow()
	r.log.logStart(t0, t0.Add(r.timeout))

	raw, err := msg.Pack()
	if err != nil {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	r.log.logQuery(t0, raw)

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(raw)))
	if _, err := stream.Write(append(lenPrefix[:], raw...)); err != nil {
		r.log.logDone(t0, t0.Add(r.timeout), err)
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	_ = stream.Close() // half-close: signal end of the query side of the stream

	if _, err := io.ReadFull(stream, lenPrefix[:]); err != nil {
		r.log.logDone(t0, t0.Add(r.timeout), err)
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	respRaw := make([]byte, binary.BigEndian.Uint16(lenPrefix[:]))
	if _, err := io.ReadFull(stream, respRaw); err != nil {
		r.log.logDone(t0, t0.Add(r.timeout), err)
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	r.log.logDone(t0, t0.Add(r.timeout), nil)
	r.log.logResponse(t0, raw, respRaw)

	resp := new(dns.Msg)
	if err := resp.Unpack(respRaw); err != nil {
		return nil, errs.NewNameResolution(errs.SubKindTransport, host, err)
	}
	return resp, nil
}
