// SPDX-License-Identifier: GPL-3.0-or-later

package wsext

import (
	"context"
	"fmt"

	"github.com/bassosimone/httpcore/backend"
)

// RawExtension passes bytes through a [DSA] untransformed, for
// user-implemented protocols that need nothing beyond the upgraded
// duplex stream itself (spec §4.7's "RawExtension variant").
type RawExtension struct {
	dsa *DSA
}

// NewRawExtension returns an extension with no protocol framing.
func NewRawExtension() *RawExtension { return &RawExtension{} }

// SupportedVersions reports that a raw extension places no constraint
// on which HTTP version carried the upgrade.
func (r *RawExtension) SupportedVersions() []backend.Protocol {
	return []backend.Protocol{backend.ProtocolHTTP1, backend.ProtocolHTTP2, backend.ProtocolHTTP3}
}

// Start binds dsa for subsequent Send/Recv calls.
func (r *RawExtension) Start(dsa *DSA, responseHeaders [][2]string) error {
	r.dsa = dsa
	return nil
}

// Send writes buf unmodified to the remote peer.
func (r *RawExtension) Send(ctx context.Context, buf []byte) error {
	if r.dsa == nil {
		return fmt.Errorf("wsext: Start was never called")
	}
	return r.dsa.Send(ctx, buf)
}

// Recv reads up to n bytes (n<=0 picks a default buffer size)
// unmodified from the remote peer.
func (r *RawExtension) Recv(ctx context.Context, n int) (data []byte, eot bool, err error) {
	if r.dsa == nil {
		return nil, false, fmt.Errorf("wsext: Start was never called")
	}
	data, eot, _, err = r.dsa.RecvExtended(ctx, n)
	return data, eot, err
}

// Close tears down the DSA.
func (r *RawExtension) Close(ctx context.Context) error {
	if r.dsa == nil {
		return nil
	}
	return r.dsa.Close()
}
