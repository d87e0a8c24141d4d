// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpcore provides a multi-version HTTP client core: a single
// connection abstraction that transparently carries a request/response
// exchange over HTTP/1.1, HTTP/2, or HTTP/3-over-QUIC, plus the pool,
// resolver, and protocol-extension machinery built on top of it.
//
// # Core Abstraction
//
// Connection setup is expressed with a single composable interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic operation with exactly one success mode
// and one failure mode. [Compose2] and [Compose3] chain Funcs into
// pipelines where the compiler verifies that outputs match inputs across
// stages; the client package uses this to build the connect →
// cancel-watch → observe → TLS/QUIC handshake pipeline for each dial.
//
// # Available Primitives
//
// Connection establishment:
//   - [ConnectFunc]: dials TCP or UDP endpoints
//   - [TLSHandshakeFunc]: performs a TLS handshake over an existing connection
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes a connection on context cancellation
//
// The HTTP/1, HTTP/2, and HTTP/3 engines, the backend, the connection pool,
// the resolver subsystem, and the WebSocket/raw extension framework live in
// the github.com/bassosimone/httpcore/engine, .../backend, .../pool,
// .../resolver, and .../wsext subpackages respectively; this package
// supplies the shared connect/TLS/logging primitives they are all built on.
//
// Composition utilities:
//   - [Compose2] and [Compose3]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//   - [NewEndpointFunc]: convenience wrapper for ConstFunc with endpoints,
//     used to curry a single resolved address into a dial pipeline
//
// # Connection Lifecycle
//
// Dial operations ([ConnectFunc], [TLSHandshakeFunc]) create connections and
// transfer ownership to the next stage on success. On error, they close the
// connection. Once a connection reaches a backend, ownership moves to the
// pool, which exclusively owns idle connections and borrows them out to
// callers (see the pool package for the borrowing discipline).
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled; set the Logger field to a
// custom [*slog.Logger] to enable it. Error classification for logging is
// configurable via [ErrClassifier]; the caller-visible error taxonomy
// (distinct from this logging-oriented classifier) lives in the errs
// subpackage.
//
// Primitives emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): operation lifecycle including
//     timing and success/failure, used for latency analysis.
//   - Wire observations (e.g., dnsQuery/dnsResponse): protocol-level
//     messages for debugging.
//
// The root package's events share localAddr, remoteAddr, protocol, and t
// (timestamp); the resolver package's DNS events carry remoteAddr,
// serverProtocol, and t instead.
// Completion events additionally include t0, err, and errClass. I/O-level
// events (read, write, deadline changes) are emitted at [slog.LevelDebug];
// all other events use [slog.LevelInfo].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7)
// for each operation and attach it to the logger with [*slog.Logger.With].
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. The caller controls timeouts externally via
// [context.WithTimeout], [context.WithDeadline], or [signal.NotifyContext].
//
// Connection lifecycle requires [CancelWatchFunc] to bind the context
// lifecycle to a connection during the connect phase. Once a connection is
// managed by the pool, per-operation timeouts and cooperative/blocking
// cancellation rules take over instead (see the pool package).
package httpcore
