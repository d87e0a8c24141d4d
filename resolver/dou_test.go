// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/httpcore"
)

// startFakeDNSServer spins up a real UDP server answering every A query
// with 93.184.216.34 and every AAAA query with NXDOMAIN, for exercising
// DOUResolver against genuine wire traffic.
func startFakeDNSServer(t *testing.T) (host string, port int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch q.Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR(q.Name + " 60 IN A 93.184.216.34")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown(); pc.Close() })

	addr := pc.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func TestDOUResolverResolvesA(t *testing.T) {
	host, port := startFakeDNSServer(t)
	r, err := NewDOUResolver(host, port, httpcore.NewConfig(), nil)
	require.NoError(t, err)
	defer r.Close()

	results, err := r.GetAddrInfo("example.test", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "93.184.216.34", results[0].Addr.String())
}

func TestDOUResolverLiteralShortCircuits(t *testing.T) {
	r := &DOUResolver{}
	results, err := r.GetAddrInfo("127.0.0.1", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "127.0.0.1", results[0].Addr.String())
}

func TestDOUResolverCloseMakesUnavailable(t *testing.T) {
	host, port := startFakeDNSServer(t)
	r, err := NewDOUResolver(host, port, httpcore.NewConfig(), nil)
	require.NoError(t, err)
	require.True(t, r.IsAvailable())
	require.NoError(t, r.Close())
	require.False(t, r.IsAvailable())
}

func TestDOUResolverAAAAOnlyReturnsNXDomain(t *testing.T) {
	host, port := startFakeDNSServer(t)
	r, err := NewDOUResolver(host, port, httpcore.NewConfig(), nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetAddrInfo("example.test", "ip6", SockStream, false)
	require.Error(t, err)
}
