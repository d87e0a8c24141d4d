// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decompressor wraps a decoding [io.Reader] for one Content-Encoding
// token. Compression is an external collaborator per spec §1 ("applied
// at the response-body layer"); this registry is the concrete home for
// the gzip/brotli/zstd codecs the domain-stack wiring names.
type decompressor interface {
	io.ReadCloser
}

// nopCloseReader adapts a plain [io.Reader] (gzip.Reader already
// implements io.ReadCloser; brotli's does not) to [decompressor].
type nopCloseReader struct{ io.Reader }

func (nopCloseReader) Close() error { return nil }

// zstdReadCloser adapts a [*zstd.Decoder], whose Close has no error
// return, to [decompressor].
type zstdReadCloser struct{ d *zstd.Decoder }

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.d.Read(p) }
func (z zstdReadCloser) Close() error                { z.d.Close(); return nil }

// newDecompressor returns the decoder for encoding (as it appears in a
// Content-Encoding header token, case-insensitively), or r itself
// wrapped in a no-op closer if encoding names the identity encoding.
// An unrecognized token is an error: silently returning the raw bytes
// would hand the caller body data it cannot correctly interpret.
func newDecompressor(encoding string, r io.Reader) (decompressor, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return nopCloseReader{r}, nil
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("client: gzip: %w", err)
		}
		return gr, nil
	case "br":
		return nopCloseReader{brotli.NewReader(r)}, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("client: zstd: %w", err)
		}
		return zstdReadCloser{zr}, nil
	default:
		return nil, fmt.Errorf("client: unsupported content-encoding %q", encoding)
	}
}
