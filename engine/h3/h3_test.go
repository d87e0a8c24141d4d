// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/httpcore/engine"
	"github.com/bassosimone/httpcore/event"
)

// generateSelfSignedCert returns a throwaway certificate for "127.0.0.1",
// used to stand up an in-process QUIC server fixture without touching
// any real certificate authority. Mirrors resolver/tlscert_test.go's
// helper of the same shape; duplicated rather than exported across
// packages purely for an unexported test fixture.
func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

// startFakeH3Server spins up a real QUIC listener speaking just enough
// of RFC 9114 to answer one request: it drains the client's control
// stream, opens its own, and on the first bidirectional stream replies
// with a 200-status HEADERS frame followed by a DATA frame, then closes
// the stream — exercising the engine's readStream EndStream handling
// end to end rather than against a synthetic byte buffer.
func startFakeH3Server(t *testing.T, body string) (host string, port int) {
	t.Helper()
	cert := generateSelfSignedCert(t)
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3"}}

	ln, err := quic.ListenAddr("127.0.0.1:0", tlsConf, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		go serveH3Conn(conn, body)
	}()

	addr := ln.Addr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func serveH3Conn(conn quic.Connection, body string) {
	go func() {
		s, err := conn.OpenUniStreamSync(context.Background())
		if err != nil {
			return
		}
		s.Write([]byte{streamTypeControl})
	}()

	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		return
	}
	defer stream.Close()

	var hbuf bytes.Buffer
	enc := qpack.NewEncoder(&hbuf)
	enc.WriteField(qpack.HeaderField{Name: ":status", Value: "200"})

	var out bytes.Buffer
	writeFrame(&out, frameTypeHeaders, hbuf.Bytes())
	writeFrame(&out, frameTypeData, []byte(body))
	stream.Write(out.Bytes())
}

// bridge pumps datagrams between e and a real UDP socket dialed at
// host:port, until ctx is cancelled.
func bridge(t *testing.T, ctx context.Context, e *Engine, host string, port int) {
	t.Helper()
	udpConn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { udpConn.Close() })

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if b := e.BytesToSend(); b != nil {
				udpConn.Write(b)
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}()

	go func() {
		buf := make([]byte, 64*1024)
		for {
			udpConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, err := udpConn.Read(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			e.BytesReceived(append([]byte(nil), buf[:n]...))
		}
	}()
}

// A full request/response round trip over a real QUIC connection
// delivers HeadersReceived then an EndStream-flagged DataReceived, and
// Read never spins waiting for a terminal event that doesn't arrive —
// this is the regression test for the readStream EndStream fix.
func TestEngineRequestResponseRoundTrip(t *testing.T) {
	host, port := startFakeH3Server(t, "hello from h3")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tlsConfig := &tls.Config{InsecureSkipVerify: true}
	e := New(ctx, host, tlsConfig, nil)
	bridge(t, ctx, e, host, port)

	streamID := e.GetAvailableStreamID()
	require.GreaterOrEqual(t, streamID, int64(0))

	err := e.SubmitHeaders(streamID, []engine.Header{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
	}, true)
	require.NoError(t, err)

	var gotHeaders *event.HeadersReceived
	var dataChunks [][]byte
	var gotEndStream bool

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		ev := e.NextEvent(&streamID)
		switch v := ev.(type) {
		case nil:
			time.Sleep(2 * time.Millisecond)
			continue
		case *event.HeadersReceived:
			gotHeaders = v
		case *event.DataReceived:
			if len(v.Data) > 0 {
				dataChunks = append(dataChunks, v.Data)
			}
			if v.EndStream {
				gotEndStream = true
			}
		}
		if gotEndStream {
			break
		}
	}

	require.NotNil(t, gotHeaders, "expected a HeadersReceived event before the deadline")
	assert.True(t, gotEndStream, "expected an EndStream-flagged DataReceived to terminate the stream")

	var got []byte
	for _, c := range dataChunks {
		got = append(got, c...)
	}
	assert.Equal(t, "hello from h3", string(got))
}
