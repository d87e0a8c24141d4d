// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"log/slog"
	"time"

	"github.com/bassosimone/httpcore"
)

// exchangeLogContext holds the common logging state for one DNS
// exchange, shared by the dou/dot/doh/doq resolvers. Adapted from the
// teacher's own DNSExchangeLogContext (dnsexchange.go), generalized
// from single-exchange UDP/TCP/TLS/HTTPS connections to this package's
// miekg/dns-based transports.
type exchangeLogContext struct {
	errClassifier  httpcore.ErrClassifier
	logger         httpcore.SLogger
	serverProtocol string
	remoteAddr     string
	timeNow        func() time.Time
}

func (lc *exchangeLogContext) logStart(t0, deadline time.Time) {
	lc.logger.Info("dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t", t0),
	)
}

func (lc *exchangeLogContext) logDone(t0, deadline time.Time, err error) {
	lc.logger.Info("dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.errClassifier.Classify(err)),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.timeNow()),
	)
}

func (lc *exchangeLogContext) logQuery(t0 time.Time, raw []byte) {
	lc.logger.Info("dnsQuery",
		slog.Any("dnsRawQuery", raw),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t", t0),
	)
}

func (lc *exchangeLogContext) logResponse(t0 time.Time, query, raw []byte) {
	lc.logger.Info("dnsResponse",
		slog.Any("dnsRawQuery", query),
		slog.Any("dnsRawResponse", raw),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.timeNow()),
	)
}
