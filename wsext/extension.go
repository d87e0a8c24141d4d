// SPDX-License-Identifier: GPL-3.0-or-later

package wsext

import "github.com/bassosimone/httpcore/backend"

// Extension is the common contract every upgraded-protocol handler in
// this package satisfies, letting the root facade store whichever one a
// caller negotiated on its Response without depending on the concrete
// type (spec §6's "response.extension (if upgraded)").
type Extension interface {
	// SupportedVersions reports which HTTP versions this extension can
	// be negotiated over.
	SupportedVersions() []backend.Protocol

	// Start binds dsa once the backend has observed a protocol-switching
	// status, validating responseHeaders as needed.
	Start(dsa *DSA, responseHeaders [][2]string) error
}

var (
	_ Extension = (*WebSocketExtension)(nil)
	_ Extension = (*MultiplexedWebSocketExtension)(nil)
	_ Extension = (*RawExtension)(nil)
)
