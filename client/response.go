// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/bassosimone/httpcore/backend"
	"github.com/bassosimone/httpcore/wsext"
)

// llrReader adapts [*backend.LowLevelResponse]'s context-taking Read to
// the stdlib [io.Reader] shape the decompression codecs expect.
type llrReader struct {
	ctx context.Context
	llr *backend.LowLevelResponse
}

func (r llrReader) Read(p []byte) (int, error) { return r.llr.Read(r.ctx, p) }

// Response is the caller-visible exchange result of spec §6's
// Programmatic API: "status, version, reason, headers, data, read(n?),
// release_conn(), extension (if upgraded)".
type Response struct {
	// StatusCode is the numeric HTTP status.
	StatusCode int

	// Version is 11, 20, or 30 for HTTP/1.1, HTTP/2, and HTTP/3
	// respectively, per spec §6.
	Version int

	// Reason is the standard status text for StatusCode (as given by
	// [net/http.StatusText]) for every protocol version; an HTTP/1.1
	// reason phrase sent on the wire is not used.
	Reason string

	// Headers preserves wire order and repeated keys.
	Headers [][2]string

	// Extension is non-nil once an upgrade (101, or a 2xx Extended
	// CONNECT) has been negotiated and started; see spec §4.7.
	Extension wsext.Extension

	body     io.ReadCloser
	data     []byte
	preload  bool
	released bool
	release  func()
}

// Data returns the whole response body. It is only populated when the
// request was made with PreloadContent true; otherwise it is nil and
// callers must use [Response.Read].
func (r *Response) Data() []byte { return r.data }

// Read implements [io.Reader] over the (optionally decompressed)
// response body.
func (r *Response) Read(p []byte) (int, error) {
	if r.body == nil {
		return 0, io.EOF
	}
	return r.body.Read(p)
}

// HeaderValue returns the first value of name (case-insensitive), and
// whether it was present.
func (r *Response) HeaderValue(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h[0], name) {
			return h[1], true
		}
	}
	return "", false
}

// ReleaseConn returns the underlying connection to the pool, per spec
// §6's "release_conn()". Reading the body to completion does not call
// it; [Client.Urlopen] calls it itself only for preloaded responses and
// redirect hops. Calling it before the body is fully read abandons the
// unread body by resetting the stream.
func (r *Response) ReleaseConn() {
	if r.released {
		return
	}
	r.released = true
	if r.body != nil {
		_ = r.body.Close()
	}
	if r.release != nil {
		r.release()
	}
}

// versionText renders [Response.Version] as a wire-style protocol
// string, used for logging.
func (r *Response) versionText() string {
	switch r.Version {
	case 11:
		return "HTTP/1.1"
	case 20:
		return "HTTP/2"
	case 30:
		return "HTTP/3"
	default:
		return "HTTP/" + strconv.Itoa(r.Version)
	}
}
