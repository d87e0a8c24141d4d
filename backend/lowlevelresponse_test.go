// SPDX-License-Identifier: GPL-3.0-or-later

package backend

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bassosimone/httpcore/engine/h1"
)

func TestLowLevelResponseChunkedBody(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"5\r\nhello\r\n0\r\n\r\n"))
	}()

	b := New(client, h1.New(), ProtocolHTTP1, "example.test")
	defer b.Close()

	require.NoError(t, b.PutRequest("GET", "/"))
	_, err := b.EndHeaders(false)
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := b.GetResponse(ctx, nil)
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 2) // force several small reads through r.tail
	for {
		n, err := resp.Read(ctx, buf)
		got = append(got, buf[:n]...)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	require.Equal(t, "hello", string(got))
	require.EqualValues(t, 5, resp.DataInCount())
}

func TestLowLevelResponseCloseAfterEOTIsNoop(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	}()

	b := New(client, h1.New(), ProtocolHTTP1, "example.test")
	defer b.Close()

	require.NoError(t, b.PutRequest("GET", "/"))
	_, err := b.EndHeaders(false)
	require.NoError(t, err)

	resp, err := b.GetResponse(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	require.NoError(t, resp.Close())
}
