// SPDX-License-Identifier: GPL-3.0-or-later

package httpcore

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &funcHandler{
		enabled: func(ctx context.Context, level slog.Level) bool { return true },
		handle: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// funcHandler adapts two closures to the [slog.Handler] interface.
type funcHandler struct {
	enabled func(context.Context, slog.Level) bool
	handle  func(context.Context, slog.Record) error
}

func (h *funcHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.enabled(ctx, level)
}

func (h *funcHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.handle(ctx, record)
}

func (h *funcHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *funcHandler) WithGroup(name string) slog.Handler       { return h }

// mockTLSEngine is a [TLSEngine] that always returns a preconfigured [TLSConn].
type mockTLSEngine struct {
	conn TLSConn
}

func newMockTLSEngine(conn TLSConn) *mockTLSEngine {
	return &mockTLSEngine{conn: conn}
}

func (e *mockTLSEngine) Client(conn net.Conn, config *tls.Config) TLSConn {
	return e.conn
}

func (e *mockTLSEngine) Name() string {
	return "mock"
}

func (e *mockTLSEngine) Parrot() string {
	return ""
}

// funcConn is a [net.Conn] stub with per-method overrides, for tests that
// need to observe or control individual operations. Unset methods default
// to the minimum behavior needed by the safeconn accessors.
type funcConn struct {
	ReadFunc             func([]byte) (int, error)
	WriteFunc            func([]byte) (int, error)
	CloseFunc            func() error
	LocalAddrFunc        func() net.Addr
	RemoteAddrFunc       func() net.Addr
	SetDeadlineFunc      func(time.Time) error
	SetReadDeadlineFunc  func(time.Time) error
	SetWriteDeadlineFunc func(time.Time) error
}

// newMinimalConn returns a [*funcConn] with no overrides set; its address
// methods fall back to zero [net.TCPAddr] values, the minimum needed by
// code that calls the safeconn accessors during construction.
func newMinimalConn() *funcConn {
	return &funcConn{}
}

func (c *funcConn) Read(b []byte) (int, error) {
	if c.ReadFunc != nil {
		return c.ReadFunc(b)
	}
	return 0, net.ErrClosed
}

func (c *funcConn) Write(b []byte) (int, error) {
	if c.WriteFunc != nil {
		return c.WriteFunc(b)
	}
	return 0, net.ErrClosed
}

func (c *funcConn) Close() error {
	if c.CloseFunc != nil {
		return c.CloseFunc()
	}
	return nil
}

func (c *funcConn) LocalAddr() net.Addr {
	if c.LocalAddrFunc != nil {
		return c.LocalAddrFunc()
	}
	return &net.TCPAddr{}
}

func (c *funcConn) RemoteAddr() net.Addr {
	if c.RemoteAddrFunc != nil {
		return c.RemoteAddrFunc()
	}
	return &net.TCPAddr{}
}

func (c *funcConn) SetDeadline(t time.Time) error {
	if c.SetDeadlineFunc != nil {
		return c.SetDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetReadDeadline(t time.Time) error {
	if c.SetReadDeadlineFunc != nil {
		return c.SetReadDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetWriteDeadline(t time.Time) error {
	if c.SetWriteDeadlineFunc != nil {
		return c.SetWriteDeadlineFunc(t)
	}
	return nil
}

// funcDialer is a [Dialer] stub backed by a closure.
type funcDialer struct {
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

func (d *funcDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.DialContextFunc(ctx, network, address)
}

// funcTLSConn is a [TLSConn] stub backed by closures, defaulting to no-ops.
type funcTLSConn struct {
	FuncConn             *funcConn
	ConnectionStateFunc  func() tls.ConnectionState
	HandshakeContextFunc func(ctx context.Context) error
}

func (c *funcTLSConn) Read(b []byte) (int, error)  { return c.FuncConn.Read(b) }
func (c *funcTLSConn) Write(b []byte) (int, error) { return c.FuncConn.Write(b) }
func (c *funcTLSConn) Close() error                { return c.FuncConn.Close() }
func (c *funcTLSConn) LocalAddr() net.Addr         { return c.FuncConn.LocalAddr() }
func (c *funcTLSConn) RemoteAddr() net.Addr        { return c.FuncConn.RemoteAddr() }
func (c *funcTLSConn) SetDeadline(t time.Time) error {
	return c.FuncConn.SetDeadline(t)
}
func (c *funcTLSConn) SetReadDeadline(t time.Time) error {
	return c.FuncConn.SetReadDeadline(t)
}
func (c *funcTLSConn) SetWriteDeadline(t time.Time) error {
	return c.FuncConn.SetWriteDeadline(t)
}

func (c *funcTLSConn) ConnectionState() tls.ConnectionState {
	if c.ConnectionStateFunc != nil {
		return c.ConnectionStateFunc()
	}
	return tls.ConnectionState{}
}

func (c *funcTLSConn) HandshakeContext(ctx context.Context) error {
	if c.HandshakeContextFunc != nil {
		return c.HandshakeContextFunc(ctx)
	}
	return nil
}

// funcTLSEngine is a [TLSEngine] stub backed by closures.
type funcTLSEngine struct {
	ClientFunc func(conn net.Conn, config *tls.Config) TLSConn
	NameFunc   func() string
	ParrotFunc func() string
}

func (e *funcTLSEngine) Client(conn net.Conn, config *tls.Config) TLSConn {
	return e.ClientFunc(conn, config)
}

func (e *funcTLSEngine) Name() string {
	if e.NameFunc != nil {
		return e.NameFunc()
	}
	return "mock"
}

func (e *funcTLSEngine) Parrot() string {
	if e.ParrotFunc != nil {
		return e.ParrotFunc()
	}
	return ""
}
