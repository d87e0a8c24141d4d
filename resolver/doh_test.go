// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestDOHResolverRFC8484Mode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		q := new(dns.Msg)
		require.NoError(t, q.Unpack(body))

		resp := new(dns.Msg)
		resp.SetReply(q)
		rr, _ := dns.NewRR(q.Question[0].Name + " 60 IN A 93.184.216.34")
		resp.Answer = append(resp.Answer, rr)
		out, err := resp.Pack()
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/dns-message")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	r := NewDOHResolver(srv.URL, DOHModeRFC8484, srv.Client(), nil)
	results, err := r.GetAddrInfo("example.test", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "93.184.216.34", results[0].Addr.String())
}

func TestDOHResolverJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "example.test", req.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/dns-json")
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.test.","type":1,"TTL":60,"data":"93.184.216.34"}]}`))
	}))
	defer srv.Close()

	r := NewDOHResolver(srv.URL, DOHModeJSON, srv.Client(), nil)
	results, err := r.GetAddrInfo("example.test", "ip4", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "93.184.216.34", results[0].Addr.String())
}

func TestDOHResolverLiteralShortCircuits(t *testing.T) {
	r := NewDOHResolver("https://dns.google/dns-query", DOHModeRFC8484, nil, nil)
	results, err := r.GetAddrInfo("::1", "ip6", SockStream, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
