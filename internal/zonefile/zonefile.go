// Package zonefile parses a YAML zone definition into an in-memory set
// of resource records keyed by owner name and type, for serving as a
// static authoritative answer source. It does not implement zone
// transfer (AXFR/IXFR) or DNSSEC signing.
package zonefile

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

// Zone holds the fully parsed, ready-to-serve contents of one zone.
type Zone struct {
	Origin string
	Class  uint16

	soa     wire.ResourceRecord
	hasSOA  bool
	records map[string]map[uint16][]wire.ResourceRecord
}

// New creates an empty zone rooted at origin, fully qualifying it if
// needed.
func New(origin string) *Zone {
	return &Zone{
		Origin:  dns.Fqdn(origin),
		Class:   wire.ClassIN,
		records: make(map[string]map[uint16][]wire.ResourceRecord),
	}
}

func (z *Zone) addRecord(rr wire.ResourceRecord) error {
	if !dns.IsSubDomain(z.Origin, dns.Fqdn(rr.Name)) {
		return fmt.Errorf("zonefile: record %s not in zone %s", rr.Name, z.Origin)
	}
	if z.records[rr.Name] == nil {
		z.records[rr.Name] = make(map[uint16][]wire.ResourceRecord)
	}
	z.records[rr.Name] = append2(z.records[rr.Name], rr)
	if rr.Type == wire.TypeSOA {
		z.soa, z.hasSOA = rr, true
	}
	return nil
}

func append2(typeMap map[uint16][]wire.ResourceRecord, rr wire.ResourceRecord) map[uint16][]wire.ResourceRecord {
	typeMap[rr.Type] = append(typeMap[rr.Type], rr)
	return typeMap
}

// SOA returns the zone's SOA record, if one was loaded.
func (z *Zone) SOA() (wire.ResourceRecord, bool) {
	return z.soa, z.hasSOA
}

// Exists reports whether name has any record at all in the zone (used to
// distinguish NXDOMAIN from NODATA).
func (z *Zone) Exists(name string) bool {
	_, ok := z.records[dns.Fqdn(name)]
	return ok
}

// Lookup returns the records at name matching qtype. If the owner has no
// record of qtype but does have a CNAME, the CNAME is returned instead
// (the caller is expected to re-query with the CNAME target, matching
// ordinary resolver behavior). qtype of wire.TypeANY returns every record
// at the owner regardless of type. Falls back to a wildcard owner
// ("*.<suffix>") one label at a time when there is no exact match.
func (z *Zone) Lookup(name string, qtype uint16) ([]wire.ResourceRecord, bool) {
	name = dns.Fqdn(name)

	if typeMap, ok := z.records[name]; ok {
		if qtype == wire.TypeANY {
			var all []wire.ResourceRecord
			for _, rrs := range typeMap {
				all = append(all, rrs...)
			}
			return all, len(all) > 0
		}
		if rrs, ok := typeMap[qtype]; ok {
			return rrs, true
		}
		if rrs, ok := typeMap[wire.TypeCNAME]; ok {
			return rrs, true
		}
		return nil, false
	}

	return z.lookupWildcard(name, qtype)
}

func (z *Zone) lookupWildcard(name string, qtype uint16) ([]wire.ResourceRecord, bool) {
	labels := dns.SplitDomainName(name)
	for i := 1; i < len(labels); i++ {
		wildcard := "*." + dns.Fqdn(strings.Join(labels[i:], "."))
		typeMap, ok := z.records[wildcard]
		if !ok {
			continue
		}
		rrs, ok := typeMap[qtype]
		if !ok {
			continue
		}
		out := make([]wire.ResourceRecord, len(rrs))
		for j, rr := range rrs {
			out[j] = rr
			out[j].Name = name
		}
		return out, true
	}
	return nil, false
}
