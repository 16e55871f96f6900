// Package statichandler is a reference resolver.Handler implementation
// serving a zonefile.Zone: a worked example of the embedder Handler
// contract, not a required part of the resolution pipeline. It serves
// only what's loaded in memory; it never performs AXFR/IXFR and never
// signs responses.
package statichandler

import (
	"context"

	"github.com/miekg/dns"

	"github.com/nimbusdns/nimbusd/internal/wire"
	"github.com/nimbusdns/nimbusd/internal/zonefile"
)

// Handler answers queries for names under a single loaded zone's origin
// and declines (ok=false) everything else, so the resolver pipeline
// falls through to upstream for names outside it.
type Handler struct {
	zone *zonefile.Zone
}

// New builds a Handler serving zone.
func New(zone *zonefile.Zone) *Handler {
	return &Handler{zone: zone}
}

// Handle implements resolver.Handler.
func (h *Handler) Handle(ctx context.Context, query *wire.Message) (*wire.Message, bool) {
	q := query.Question[0]
	name := dns.Fqdn(q.Name)

	if !dns.IsSubDomain(h.zone.Origin, name) {
		return nil, false
	}

	if rrs, ok := h.zone.Lookup(name, q.Type); ok {
		resp := wire.NewResponse(query, rrs, h.authority(), nil)
		resp.Header.AA = true
		return resp, true
	}

	if h.zone.Exists(name) {
		// NODATA: the owner exists but has nothing of this type.
		resp := wire.NewResponse(query, nil, h.authority(), nil)
		resp.Header.AA = true
		return resp, true
	}

	resp := wire.NewError(query, wire.RcodeNameError)
	resp.Header.AA = true
	resp.Authority = h.authority()
	return resp, true
}

func (h *Handler) authority() []wire.ResourceRecord {
	soa, ok := h.zone.SOA()
	if !ok {
		return nil
	}
	return []wire.ResourceRecord{soa}
}
