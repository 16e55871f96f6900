// Package resolver implements the three-stage query pipeline shared by
// every transport: a cache lookup, an optional embedder-supplied Handler,
// and failover to upstream nameservers.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbusdns/nimbusd/internal/cache"
	"github.com/nimbusdns/nimbusd/internal/metrics"
	"github.com/nimbusdns/nimbusd/internal/upstream"
	"github.com/nimbusdns/nimbusd/internal/wire"
)

// Handler lets an embedder answer queries authoritatively (e.g. from a
// loaded zone) before the request ever reaches upstream. A Handler that
// cannot answer a query returns ok=false so the pipeline continues to the
// next stage; statichandler.Handler is the reference implementation.
type Handler interface {
	Handle(ctx context.Context, query *wire.Message) (resp *wire.Message, ok bool)
}

// Config controls a Resolver.
type Config struct {
	Cache    *cache.Cache
	Upstream *upstream.Client
	Handler  Handler // optional
	Logger   *slog.Logger
}

// Resolver answers a parsed query, in the Design Notes' required order:
// cache, then Handler, then upstream failover.
type Resolver struct {
	cache    *cache.Cache
	upstream *upstream.Client
	handler  Handler
	log      *slog.Logger
}

// New builds a Resolver from cfg.
func New(cfg Config) *Resolver {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cache:    cfg.Cache,
		upstream: cfg.Upstream,
		handler:  cfg.Handler,
		log:      log,
	}
}

// Resolve answers query, returning a complete response Message. Resolve
// never returns a nil Message: any internal failure is mapped to a
// SERVFAIL response so transports have a single uniform contract.
func (r *Resolver) Resolve(ctx context.Context, query *wire.Message) (out *wire.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic handling query", "recovered", rec)
			out = wire.NewError(query, wire.RcodeServerFailure)
		}
	}()

	if query.IsResponse() || query.Header.Opcode != wire.OpQuery {
		return wire.NewError(query, wire.RcodeNotImplemented)
	}
	if len(query.Question) == 0 {
		return wire.NewError(query, wire.RcodeFormatError)
	}

	// Only the first question is answered; see the decision recorded for
	// multi-question queries.
	q := query.Question[0]

	if resp := r.fromCache(query, q); resp != nil {
		return resp
	}

	if r.handler != nil {
		if resp, ok := r.handler.Handle(ctx, query); ok {
			r.storeIfCacheable(q, resp)
			return resp
		}
	}

	if r.upstream == nil {
		return wire.NewError(query, wire.RcodeServerFailure)
	}

	upResp, err := r.upstream.Resolve(ctx, q.Name, q.Type, q.Class)
	if err != nil {
		r.log.Warn("upstream resolution failed", "name", q.Name, "qtype", q.Type, "error", err)
		return wire.NewError(query, wire.RcodeServerFailure)
	}

	resp := wire.NewResponse(query, upResp.Answer, upResp.Authority, upResp.Additional)
	resp.Header.Rcode = upResp.Header.Rcode
	resp.Header.AA = upResp.Header.AA

	r.storeIfCacheable(q, resp)
	return resp
}

func (r *Resolver) fromCache(query *wire.Message, q wire.Question) *wire.Message {
	if r.cache == nil {
		return nil
	}
	entry, ok := r.cache.Lookup(q.Name, q.Type, q.Class)
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()

	ttl := int32(entry.ExpiresAt.Sub(time.Now()) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	answer := withTTL(entry.Answer, ttl)
	authority := withTTL(entry.Authority, ttl)

	if entry.Rcode != wire.RcodeSuccess {
		resp := wire.NewError(query, entry.Rcode)
		resp.Authority = authority
		return resp
	}
	return wire.NewResponse(query, answer, authority, nil)
}

func withTTL(rrs []wire.ResourceRecord, ttl int32) []wire.ResourceRecord {
	if rrs == nil {
		return nil
	}
	out := make([]wire.ResourceRecord, len(rrs))
	for i, rr := range rrs {
		out[i] = rr
		out[i].TTL = ttl
	}
	return out
}

// storeIfCacheable caches a successful answer with records under (q.Name,
// q.Type, q.Class) and an NXDOMAIN under q.Name's name-wide negative key.
// NODATA, SERVFAIL and other transient failures are never cached.
func (r *Resolver) storeIfCacheable(q wire.Question, resp *wire.Message) {
	if r.cache == nil || resp == nil {
		return
	}
	defer func() { metrics.CacheSize.Set(float64(r.cache.Stats().Size)) }()

	switch resp.Header.Rcode {
	case wire.RcodeSuccess:
		if len(resp.Answer) == 0 {
			// NODATA is not cached: the negative key would make it answer
			// for every type under the name, not just q.Type.
			return
		}
		r.cache.StorePositive(q.Name, q.Type, q.Class, resp.Answer, resp.Authority, resp.Additional, minTTL(resp.Answer))
	case wire.RcodeNameError:
		r.cache.StoreNegative(q.Name, q.Class, wire.RcodeNameError, resp.Authority, r.cache.NegativeTTL())
	}
}

func minTTL(rrs []wire.ResourceRecord) time.Duration {
	if len(rrs) == 0 {
		return 0
	}
	min := rrs[0].TTL
	for _, rr := range rrs[1:] {
		if rr.TTL < min {
			min = rr.TTL
		}
	}
	if min < 0 {
		min = 0
	}
	return time.Duration(min) * time.Second
}
