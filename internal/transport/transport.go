// Package transport implements the three wire transports this server
// speaks: plain UDP, DNS-over-TLS (RFC 7858) and DNS-over-QUIC (RFC
// 9250). All three share one capability interface so the owning service
// can start, stop and enumerate them uniformly regardless of protocol.
package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/nimbusdns/nimbusd/internal/metrics"
	"github.com/nimbusdns/nimbusd/internal/ratelimit"
	"github.com/nimbusdns/nimbusd/internal/resolver"
	"github.com/nimbusdns/nimbusd/internal/wire"
)

// Transport is implemented by every listener this server can run. Start
// must not block; it returns once the underlying socket is bound and
// accepting, and runs its serve loop in background goroutines. Stop
// blocks until in-flight work has wound down or ctx is canceled.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Addr() net.Addr
}

// Deps bundles the shared collaborators every transport needs to answer
// a query: the resolution pipeline plus the optional ACL and rate
// limiter applied before a query is even decoded.
type Deps struct {
	Resolver  *resolver.Resolver
	ACL       *ratelimit.ACL
	RateLimit *ratelimit.Limiter
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// admit applies the ACL and rate limiter to a client address, in that
// order, so an explicitly denied client is never even charged against
// its rate budget.
func (d Deps) admit(ip net.IP) bool {
	if !d.ACL.IsAllowed(ip) {
		metrics.ACLRejections.WithLabelValues("acl").Inc()
		return false
	}
	if !d.RateLimit.Allow(ip) {
		metrics.ACLRejections.WithLabelValues("rate_limit").Inc()
		return false
	}
	return true
}

// answer runs one raw query through decode, the resolution pipeline and
// re-encode, returning the wire bytes to send back. maxSize bounds the
// encoded response; a response that would exceed it is replaced with an
// empty-answer message carrying the TC bit, per the UDP truncation rule
// (RFC 1035 section 4.2.1). Transports whose framing has no size
// pressure (DoT, DoQ) pass wire.MaxMessageSize so truncation never
// triggers in practice.
//
// replyOnParseFailure controls what happens when raw doesn't parse as a
// DNS message at all. Connection-oriented transports (DoT, DoQ) reply
// with a synthesized FORMERR, since the peer is waiting on the open
// stream for some response. UDP has no such expectation and malformed
// datagrams are dropped silently, matching this server's error-handling
// policy for unparsable queries over a connectionless transport.
func (d Deps) answer(ctx context.Context, transportName string, raw []byte, maxSize int, replyOnParseFailure bool) []byte {
	start := time.Now()

	query, err := wire.Parse(raw)
	if err != nil {
		if !replyOnParseFailure {
			return nil
		}
		id, ok := wire.PeekID(raw)
		if !ok {
			return nil
		}
		errResp := wire.NewUnparsableError(id, wire.RcodeFormatError)
		metrics.ObserveQuery(transportName, errResp.Header.Rcode, start)
		return mustSerialize(d.logger(), errResp)
	}

	resp := d.Resolver.Resolve(ctx, query)
	metrics.ObserveQuery(transportName, resp.Header.Rcode, start)

	out := mustSerialize(d.logger(), resp)
	if out == nil {
		return nil
	}
	if len(out) <= maxSize {
		return out
	}

	truncated := wire.NewResponse(query, nil, nil, nil)
	truncated.Header.TC = true
	out = mustSerialize(d.logger(), truncated)
	return out
}

func mustSerialize(log *slog.Logger, m *wire.Message) []byte {
	out, err := wire.Serialize(m)
	if err != nil {
		log.Error("failed to serialize response", "error", err)
		return nil
	}
	return out
}
