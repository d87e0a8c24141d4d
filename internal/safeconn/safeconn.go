// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from the connection-introspection helpers used throughout
// bassosimone/nop for structured-logging field extraction.

// Package safeconn provides nil-tolerant accessors for [net.Conn] metadata.
//
// Logging code frequently needs a connection's addresses after the
// connection has failed to establish (conn is nil) or has already been
// closed. These helpers return "" rather than panicking in those cases.
package safeconn

import "net"

// LocalAddr returns conn's local address, or "" if conn is nil or the
// address is unavailable.
func LocalAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// RemoteAddr returns conn's remote address, or "" if conn is nil or the
// address is unavailable.
func RemoteAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Network returns the network name ("tcp", "udp", ...) of conn's local
// address, or "" if conn is nil or the address is unavailable.
func Network(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.Network()
	}
	return ""
}
