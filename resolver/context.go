// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"time"
)

// deadlineContext returns a context that expires after d, used by
// exchangeOverConn for the dou and dot resolvers' single-shot miekg/dns
// exchange calls (the doq resolver calls [context.WithTimeout] itself).
// These resolvers take no caller [context.Context] (see spec §4.6's
// resolver contract, which is synchronous).
func deadlineContext(d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	_ = cancel // the timeout itself cancels ctx; no early-exit path needs it
	return ctx
}
