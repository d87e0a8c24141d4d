// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startFakeDoTServer spins up a real TLS listener answering A queries
// with 93.184.216.34, for exercising DOTResolver against genuine
// length-prefixed stream traffic.
func startFakeDoTServer(t *testing.T) (host string, port int) {
	t.Helper()
	cert := generateSelfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneDNSStreamConn(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// serveOneDNSStreamConn answers every length-prefixed DNS query it
// receives on conn until the peer closes the connection.
func serveOneDNSStreamConn(conn net.Conn) {
	defer conn.Close()
	dconn := &dns.Conn{Conn: conn}
	for {
		q, err := dconn.ReadMsg()
		if err != nil {
			return
		}
		m := new(dns.Msg)
		m.SetReply(q)
		question := q.Question[0]
		switch question.Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR(question.Name + " 60 IN A 93.184.216.34")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			m.Rcode = dns.RcodeNameError
		}
		if err := dconn.WriteMsg(m); err != nil {
			return
		}
	}
}

func TestDOTResolverResolvesA(t *testing.T) {
	host, port := startFakeDoTServer(t)
	r, err := NewDOTResolver(host, port, &tls.Config{InsecureSkipVerify: true}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	results, err := r.GetAddrInfo("example.test", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "93.184.216.34", results[0].Addr.String())
}

func TestDOTResolverLiteralShortCircuits(t *testing.T) {
	r := &DOTResolver{}
	results, err := r.GetAddrInfo("10.0.0.1", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDOTResolverCloseMakesUnavailable(t *testing.T) {
	host, port := startFakeDoTServer(t)
	r, err := NewDOTResolver(host, port, &tls.Config{InsecureSkipVerify: true}, nil, nil)
	require.NoError(t, err)
	require.True(t, r.IsAvailable())
	require.NoError(t, r.Close())
	require.False(t, r.IsAvailable())
}
