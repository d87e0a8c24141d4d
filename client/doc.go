// SPDX-License-Identifier: GPL-3.0-or-later

// Package client implements the public, high-level "pool manager"
// convenience façade spec §6 describes: a [Client] constructed with a
// recognizable option set and an [Client.Urlopen] method returning a
// caller-visible [Response], built entirely out of the lower-level
// engine/backend/pool/resolver/wsext packages.
//
// This façade is deliberately its own package rather than living in the
// root httpcore package: the pool and resolver packages already import
// httpcore for its Config/Dialer/TLS primitives, so a facade needing
// pool, resolver, backend, and wsext together cannot also live in
// httpcore without an import cycle. See DESIGN.md's "client package"
// entry for the full rationale.
package client
