// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"

	"github.com/quic-go/quic-go"

	"github.com/bassosimone/httpcore"
	"github.com/bassosimone/httpcore/backend"
	"github.com/bassosimone/httpcore/engine/h1"
	"github.com/bassosimone/httpcore/engine/h2"
	"github.com/bassosimone/httpcore/engine/h3"
	"github.com/bassosimone/httpcore/errs"
	"github.com/bassosimone/httpcore/pool"
	"github.com/bassosimone/httpcore/resolver"
	"github.com/bassosimone/httpcore/wsext"
)

// Options configures a [Client], mirroring spec §6's Pool constructor
// arguments: "num_pools, maxsize, headers, ... resolver, ssl_context,
// ... disabled SVN, preemptive QUIC cache, SOCKS proxy" and friends.
type Options struct {
	// NumPools is passed to [pool.New] as its per-endpoint queue size
	// (spec §6's num_pools); the pool does not enforce it, so the number
	// of idle connections kept per endpoint is not bounded.
	NumPools int

	// IdleTimeout evicts a pooled connection that has sat idle longer
	// than this; non-positive disables idle eviction.
	IdleTimeout time.Duration

	// Headers are sent with every request in addition to caller-supplied
	// per-request headers, with the per-request ones taking precedence
	// on conflict.
	Headers [][2]string

	// TLSConfig seeds every TLS handshake this client performs; its
	// NextProtos field is overwritten per dial to negotiate the right
	// engine. A nil value defaults to an empty [*tls.Config].
	TLSConfig *tls.Config

	// QUICConfig seeds every HTTP/3 handshake. A nil value uses
	// quic-go's own zero-value defaults.
	QUICConfig *quic.Config

	// Resolver answers name resolution; a nil value uses a 10-second
	// [resolver.NewSystemResolver].
	Resolver resolver.Resolver

	// DisabledSVN excludes protocols from negotiation entirely, per
	// spec §6's "disabled SVN" option (e.g. forcing HTTP/1.1-only).
	DisabledSVN map[backend.Protocol]bool

	// PreemptiveQUIC seeds the Alt-Svc cache with endpoints known in
	// advance to speak HTTP/3, skipping the usual discover-via-response
	// round trip (spec §6's "preemptive QUIC cache").
	PreemptiveQUIC []Endpoint

	// Retry decides whether a failed exchange is retried. Defaults to
	// [NewDefaultRetryPolicy].
	Retry RetryPolicy

	// Redirect decides whether and how a 3xx response is followed.
	// Defaults to [NewDefaultRedirectPolicy].
	Redirect RedirectPolicy

	// Timeout, when positive, bounds each dial and handshake attempt on
	// top of any deadline the caller's context carries. Zero means no
	// additional timeout is imposed. Sending the request and reading the
	// response are not bounded by it.
	Timeout time.Duration

	// SOCKSProxy, if non-empty, is a "socks5://[user:pass@]host:port"
	// description every TCP dial is routed through. Per spec §6's
	// "Environment" paragraph, this forces [backend.ProtocolHTTP3] into
	// DisabledSVN, since SOCKS has no datagram relay mode.
	SOCKSProxy string

	// Logger receives structured lifecycle logging, following the same
	// Info/Debug split as the rest of this module. Defaults to
	// [httpcore.DefaultSLogger].
	Logger httpcore.SLogger
}

// Endpoint names a host:port pair [Options.PreemptiveQUIC] seeds the
// Alt-Svc cache for.
type Endpoint struct {
	Host string
	Port int
}

// Client is the public, caller-facing "pool manager" of spec §6: a
// single construction point that owns a connection [pool.Pool], an
// [backend.AltSvcCache], and a [resolver.Resolver], exposing
// [Client.Urlopen] as its one entry point. It cannot live in the root
// httpcore package: [pool] and [resolver] already import httpcore for
// its Config/Dialer/TLS primitives, so a façade depending on pool,
// resolver, backend, and wsext together would close an import cycle
// from the other direction. See DESIGN.md's "client package" entry.
type Client struct {
	opts     Options
	cfg      *httpcore.Config
	pool     *pool.Pool
	altSvc   *backend.AltSvcCache
	resolver resolver.Resolver
	logger   httpcore.SLogger
}

// NewClient builds a [*Client] from opts, filling in every unset field
// with the same defaults the rest of this module uses.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = httpcore.DefaultSLogger()
	}
	if opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{}
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.NewSystemResolver(0)
	}
	if opts.Retry == nil {
		opts.Retry = NewDefaultRetryPolicy()
	}
	if opts.Redirect == nil {
		opts.Redirect = NewDefaultRedirectPolicy()
	}
	disabled := make(map[backend.Protocol]bool, len(opts.DisabledSVN))
	for k, v := range opts.DisabledSVN {
		disabled[k] = v
	}
	opts.DisabledSVN = disabled

	altSvc := backend.NewAltSvcCache()
	for _, ep := range opts.PreemptiveQUIC {
		altSvc.ObserveAltSvc(ep.Host, ep.Port, fmt.Sprintf(`h3=":%d"`, ep.Port))
	}

	cfg := httpcore.NewConfig()
	if opts.SOCKSProxy != "" {
		sd, err := newSOCKSDialer(opts.SOCKSProxy)
		if err == nil {
			cfg.Dialer = sd
			opts.DisabledSVN[backend.ProtocolHTTP3] = true
		} else {
			opts.Logger.Info("socksProxyDisabled", "err", err.Error())
		}
	}

	return &Client{
		opts:     opts,
		cfg:      cfg,
		pool:     pool.New(opts.NumPools, opts.IdleTimeout, opts.Logger),
		altSvc:   altSvc,
		resolver: opts.Resolver,
		logger:   opts.Logger,
	}
}

// RequestOptions customizes a single [Client.Urlopen] call beyond
// method and URL, mirroring spec §6's per-call keyword arguments.
type RequestOptions struct {
	// Headers are merged on top of [Options.Headers] for this call only.
	Headers [][2]string

	// Body, if non-nil, is streamed as the request body.
	Body io.Reader

	// PreloadContent, when true, makes [Client.Urlopen] read the entire
	// response body into [Response.Data] and release the connection
	// before returning, matching spec §6's "preload_content" default.
	PreloadContent bool

	// Extension, if non-nil, is attached to the request as an upgrade
	// negotiation (e.g. a [wsext.WebSocketExtension]); its
	// [wsext.Extension.SupportedVersions] restrict which protocol
	// versions this exchange is eligible to run over.
	Extension wsext.Extension
}

// Urlopen performs one HTTP exchange against rawURL using method,
// following redirects and retrying transient failures per
// [Options.Redirect] and [Options.Retry], and returns the final
// [*Response] (spec §6's "urlopen(method, url, ...)").
func (c *Client) Urlopen(ctx context.Context, method, rawURL string, ropts *RequestOptions) (*Response, error) {
	if ropts == nil {
		ropts = &RequestOptions{}
	}
	hops, attempts := 0, 0
	for {
		resp, err := c.urlopenOnce(ctx, method, rawURL, ropts)
		if err == nil {
			if isRedirectStatus(resp.StatusCode) {
				if loc, ok := resp.HeaderValue("Location"); ok {
					next, follow := c.opts.Redirect.NextRequest(resp.StatusCode, method, hops)
					if follow {
						resp.ReleaseConn()
						hops++
						method = next
						rawURL = resolveLocation(rawURL, loc)
						continue
					}
				}
			}
			return resp, nil
		}

		wait, retry := c.opts.Retry.ShouldRetry(method, attempts, err)
		if !retry {
			return nil, err
		}
		attempts++
		c.logger.Info("urlopenRetry", "method", method, "url", rawURL, "wait", wait.String(), "err", err.Error())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// resolveLocation resolves a possibly-relative Location header against
// the request URL it was observed on.
func resolveLocation(requestURL, location string) string {
	base, err := url.Parse(requestURL)
	if err != nil {
		return location
	}
	rel, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(rel).String()
}

// urlopenOnce performs exactly one exchange, with no redirect/retry
// handling of its own.
func (c *Client) urlopenOnce(ctx context.Context, method, rawURL string, ropts *RequestOptions) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "urlopen", err)
	}
	host, port, err := splitHostPort(u)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "urlopen", err)
	}
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, errs.New(errs.KindNameResolution, "urlopen", err)
	}

	ep := pool.Endpoint{Host: asciiHost, Port: port, Protocol: c.chooseProtocol(u.Scheme, asciiHost, port)}
	lease, err := c.pool.Acquire(ctx, ep, c.dialBackend)
	if err != nil {
		return nil, err
	}
	b := lease.Backend()

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	if err := b.PutRequest(method, path); err != nil {
		c.pool.Release(lease)
		return nil, err
	}
	if err := b.PutHeader("Host", hostHeaderValue(asciiHost, port, u.Scheme)); err != nil {
		c.pool.Release(lease)
		return nil, err
	}
	for _, h := range c.opts.Headers {
		_ = b.PutHeader(h[0], h[1])
	}
	for _, h := range ropts.Headers {
		_ = b.PutHeader(h[0], h[1])
	}
	if ropts.Extension != nil {
		if !extensionSupports(ropts.Extension, b.Protocol()) {
			c.pool.Release(lease)
			return nil, errs.New(errs.KindProtocol, "urlopen",
				fmt.Errorf("client: extension does not support %s", b.Protocol()))
		}
		for _, h := range extensionRequestHeaders(ropts.Extension, b.Protocol()) {
			_ = b.PutHeader(h[0], h[1])
		}
	}

	hasBody := ropts.Body != nil
	promise, err := b.EndHeaders(hasBody)
	if err != nil {
		c.pool.Release(lease)
		return nil, err
	}

	if hasBody {
		if err := c.sendBody(ctx, b, promise, ropts.Body); err != nil {
			c.pool.Release(lease)
			return nil, err
		}
	}

	// Memorized uniformly, regardless of protocol, so a [wsext.DSA] can
	// be constructed the same way on an exclusively- or shared-borrowed
	// connection alike.
	ticket := c.pool.Memorize(lease, promise)

	llr, err := b.GetResponse(ctx, promise)
	if err != nil {
		c.pool.Forget(ticket)
		c.pool.Release(lease)
		return nil, err
	}

	if altSvc, ok := headerValue(llr.Headers, "alt-svc"); ok {
		c.altSvc.ObserveAltSvc(asciiHost, port, altSvc)
	}

	resp := &Response{
		StatusCode: llr.StatusCode,
		Version:    versionNumber(b.Protocol()),
		Reason:     http.StatusText(llr.StatusCode),
		Headers:    llr.Headers,
	}

	if isUpgradeStatus(method, resp.StatusCode) && ropts.Extension != nil {
		dsa := wsext.NewDSA(c.pool, ticket, llr)
		if err := ropts.Extension.Start(dsa, llr.Headers); err != nil {
			_ = dsa.Close()
			c.pool.Release(lease)
			return nil, errs.New(errs.KindProtocol, "urlopen", err)
		}
		resp.Extension = ropts.Extension
		resp.released = true // release_conn() would double-release an upgraded DSA's ticket
		return resp, nil
	}

	decoded, err := c.decodedBody(ctx, llr)
	if err != nil {
		c.pool.Forget(ticket)
		c.pool.Release(lease)
		return nil, err
	}
	resp.body = decoded
	resp.release = func() {
		c.pool.Forget(ticket)
		c.pool.Release(lease)
	}

	if ropts.PreloadContent {
		data, err := io.ReadAll(resp)
		resp.ReleaseConn()
		if err != nil {
			return nil, errs.New(errs.KindProtocol, "urlopen", err)
		}
		resp.data = data
		resp.preload = true
	}

	return resp, nil
}

// sendBody drains ropts.Body in chunks onto the wire.
func (c *Client) sendBody(ctx context.Context, b *backend.Backend, promise *backend.ResponsePromise, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			eot := readErr == io.EOF
			if err := b.Send(ctx, promise, buf[:n], eot); err != nil {
				return err
			}
			if eot {
				return nil
			}
		}
		if readErr == io.EOF {
			return b.Send(ctx, promise, nil, true)
		}
		if readErr != nil {
			return errs.New(errs.KindProtocol, "send", readErr)
		}
	}
}

// decodedBody wraps llr in the decompressor named by its Content-Encoding
// header, defaulting to identity.
func (c *Client) decodedBody(ctx context.Context, llr *backend.LowLevelResponse) (io.ReadCloser, error) {
	encoding, _ := headerValue(llr.Headers, "content-encoding")
	dec, err := newDecompressor(encoding, llrReader{ctx: ctx, llr: llr})
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "urlopen", err)
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: dec, Closer: closerFunc(func() error { _ = dec.Close(); return llr.Close() })}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// chooseProtocol decides the pool.Endpoint protocol class to key on:
// http:// always targets HTTP/1.1; https:// targets HTTP/3 when the
// Alt-Svc cache has a usable hint and it is not disabled, otherwise
// HTTP/2 (with a graceful fallback to HTTP/1.1 happening at ALPN
// negotiation time inside [Client.dialTCP]).
func (c *Client) chooseProtocol(scheme, host string, port int) backend.Protocol {
	if scheme == "http" {
		return backend.ProtocolHTTP1
	}
	if !c.opts.DisabledSVN[backend.ProtocolHTTP3] {
		if _, _, ok := c.altSvc.Lookup(host, port); ok {
			return backend.ProtocolHTTP3
		}
	}
	return backend.ProtocolHTTP2
}

// dialBackend is a [pool.Dialer]: it resolves ep's host, connects, and
// hands back a [*backend.Backend] driving the negotiated engine.
func (c *Client) dialBackend(ctx context.Context, ep pool.Endpoint) (*backend.Backend, error) {
	if dl := c.opts.Timeout; dl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dl)
		defer cancel()
	}

	if ep.Protocol == backend.ProtocolHTTP3 {
		be, err := c.dialHTTP3(ctx, ep)
		if err == nil {
			return be, nil
		}
		c.altSvc.Invalidate(ep.Host, ep.Port)
		c.logger.Info("http3DialFallback", "host", ep.Host, "port", ep.Port, "err", err.Error())
		ep.Protocol = backend.ProtocolHTTP2
	}

	return c.dialTCP(ctx, ep)
}

// dialTCP connects to one of ep's resolved candidates (racing them
// "happy eyeballs"-style via [errgroup.Group] so a slow or unreachable
// address does not block a working one), performs the TLS handshake
// offering h2/http1.1 ALPN, and wraps the negotiated protocol's engine.
func (c *Client) dialTCP(ctx context.Context, ep pool.Endpoint) (*backend.Backend, error) {
	addrs, err := c.resolveHost(ep.Host)
	if err != nil {
		return nil, err
	}

	connectFn := httpcore.NewConnectFunc(c.cfg, "tcp", c.logger)
	conn, err := c.raceDial(ctx, addrs, ep.Port, connectFn)
	if err != nil {
		return nil, errs.New(errs.KindNewConnection, "connect", err)
	}

	tlsConfig := c.opts.TLSConfig.Clone()
	tlsConfig.ServerName = ep.Host
	if c.opts.DisabledSVN[backend.ProtocolHTTP2] {
		tlsConfig.NextProtos = []string{"http/1.1"}
	} else {
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	}
	tlsFn := httpcore.NewTLSHandshakeFunc(c.cfg, tlsConfig, c.logger)

	// Compose3 chains the winning candidate through connect-phase
	// cancellation (closing it the instant ctx is done, rather than
	// waiting on the TLS handshake's own error path) and I/O-level
	// observability logging before the handshake itself, per SPEC_FULL
	// §A's "every span... t, t0, deadline, err" and "CancelWatchFunc-style
	// context-to-Close wiring" promises.
	pipeline := httpcore.Compose3[net.Conn, net.Conn, net.Conn, httpcore.TLSConn](
		httpcore.NewCancelWatchFunc(),
		httpcore.NewObserveConnFunc(c.cfg, c.logger),
		tlsFn,
	)
	tconn, err := pipeline.Call(ctx, conn)
	if err != nil {
		return nil, errs.New(errs.KindSSL, "tlshandshake", err)
	}

	if tconn.ConnectionState().NegotiatedProtocol == "h2" {
		return backend.New(tconn, h2.New(), backend.ProtocolHTTP2, ep.Host), nil
	}
	return backend.New(tconn, h1.New(), backend.ProtocolHTTP1, ep.Host), nil
}

// dialHTTP3 connects a UDP socket to ep's first resolved candidate,
// drives a QUIC handshake through [h3.New], and spawns the background
// pump loop real-socket HTTP/3 needs (see [backend.Backend.Pump]'s doc
// comment): the engine's handshake and its GOAWAY/SETTINGS/ping traffic
// complete asynchronously inside h3's own goroutine, and nothing else
// would drive the socket for them otherwise.
func (c *Client) dialHTTP3(ctx context.Context, ep pool.Endpoint) (*backend.Backend, error) {
	addrs, err := c.resolveHost(ep.Host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no addresses for %s", ep.Host)
	}

	connectFn := httpcore.NewConnectFunc(c.cfg, "udp", c.logger)
	addrPort := httpcore.NewEndpointFunc(netip.AddrPortFrom(addrs[0], uint16(ep.Port)))

	// Same connect-phase cancellation + I/O observability pipeline as
	// [Client.dialTCP], folded in here ahead of the QUIC handshake; see
	// that function's doc comment. NewEndpointFunc curries the chosen
	// candidate in as the pipeline's [httpcore.Unit] input, since (unlike
	// dialTCP's happy-eyeballs race) HTTP/3 dials a single address.
	pipeline := httpcore.Compose2(addrPort, httpcore.Compose3[netip.AddrPort, net.Conn, net.Conn, net.Conn](
		connectFn,
		httpcore.NewCancelWatchFunc(),
		httpcore.NewObserveConnFunc(c.cfg, c.logger),
	))
	conn, err := pipeline.Call(ctx, httpcore.Unit{})
	if err != nil {
		return nil, errs.New(errs.KindNewConnection, "connect", err)
	}

	tlsConfig := c.opts.TLSConfig.Clone()
	tlsConfig.ServerName = ep.Host
	tlsConfig.NextProtos = []string{"h3"}

	eng := h3.New(ctx, ep.Host, tlsConfig, c.opts.QUICConfig)
	be := backend.New(conn, eng, backend.ProtocolHTTP3, ep.Host)

	pumpCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for {
			if err := be.Pump(pumpCtx); err != nil {
				return
			}
		}
	}()

	return be, nil
}

// raceDial dials addrs concurrently on port, returning the first
// successful connection and abandoning the rest ("happy eyeballs").
// Unlike [errgroup.WithContext], a single dial failure must not cancel
// its siblings — only a success, or every attempt failing, ends the
// race — so this uses a plain [errgroup.Group] and its own context.
func (c *Client) raceDial(ctx context.Context, addrs []netip.Addr, port int, connectFn *httpcore.ConnectFunc) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no addresses to dial")
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	results := make(chan net.Conn, len(addrs))
	for _, addr := range addrs {
		g.Go(func() error {
			conn, err := connectFn.Call(raceCtx, netip.AddrPortFrom(addr, uint16(port)))
			if err != nil {
				return err
			}
			select {
			case results <- conn:
			default:
				_ = conn.Close()
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case conn := <-results:
		cancel()
		return conn, nil
	case err := <-done:
		select {
		case conn := <-results:
			return conn, nil
		default:
			return nil, err
		}
	}
}

// resolveHost asks [Options.Resolver] for host's candidates, sorted per
// spec §4.6, short-circuiting literal IP inputs.
func (c *Client) resolveHost(host string) ([]netip.Addr, error) {
	infos, err := c.resolver.GetAddrInfo(host, "ip", resolver.SockUnspecified, true)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Addr)
	}
	return out, nil
}

func splitHostPort(u *url.URL) (string, int, error) {
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("client: missing host in %q", u.String())
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("client: invalid port in %q", u.String())
		}
		return host, port, nil
	}
	if u.Scheme == "https" {
		return host, 443, nil
	}
	return host, 80, nil
}

func hostHeaderValue(host string, port int, scheme string) string {
	defaultPort := 80
	if scheme == "https" {
		defaultPort = 443
	}
	if port == defaultPort {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

func headerValue(headers [][2]string, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h[0], name) {
			return h[1], true
		}
	}
	return "", false
}

func versionNumber(p backend.Protocol) int {
	switch p {
	case backend.ProtocolHTTP2:
		return 20
	case backend.ProtocolHTTP3:
		return 30
	default:
		return 11
	}
}

// isUpgradeStatus reports whether statusCode on a request that used
// method indicates a successful protocol switch: 101 Switching
// Protocols for HTTP/1.1, or any 2xx for an RFC 8441 Extended CONNECT
// (method CONNECT) on HTTP/2 or HTTP/3.
func isUpgradeStatus(method string, statusCode int) bool {
	if statusCode == http.StatusSwitchingProtocols {
		return true
	}
	return strings.EqualFold(method, http.MethodConnect) && statusCode >= 200 && statusCode < 300
}

func extensionSupports(ext wsext.Extension, proto backend.Protocol) bool {
	for _, p := range ext.SupportedVersions() {
		if p == proto {
			return true
		}
	}
	return false
}

// extensionRequestHeaders type-switches to the concrete extension types
// this module ships, since [wsext.Extension] itself only exposes Start
// and SupportedVersions; RequestHeaders is specific to the WebSocket
// codecs.
func extensionRequestHeaders(ext wsext.Extension, proto backend.Protocol) [][2]string {
	switch w := ext.(type) {
	case *wsext.WebSocketExtension:
		return w.RequestHeaders(proto)
	case *wsext.MultiplexedWebSocketExtension:
		return w.RequestHeaders(proto)
	default:
		return nil
	}
}
