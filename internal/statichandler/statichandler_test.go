package statichandler

import (
	"context"
	"testing"

	"github.com/nimbusdns/nimbusd/internal/wire"
	"github.com/nimbusdns/nimbusd/internal/zonefile"
)

const testZone = `
zone:
  name: example.com

soa:
  primary_ns: ns1.example.com
  contact: hostmaster@example.com
  serial: "1"
  refresh: 1h
  retry: 15m
  expire: 1w
  negative_ttl: 5m

records:
  "@":
    NS: ns1.example.com
  www:
    A: 203.0.113.5
`

func mustParse(t *testing.T) *zonefile.Zone {
	t.Helper()
	z, err := zonefile.Parse([]byte(testZone), zonefile.DefaultConfig())
	if err != nil {
		t.Fatalf("zonefile.Parse() error: %v", err)
	}
	return z
}

func TestHandleServesExistingRecord(t *testing.T) {
	h := New(mustParse(t))
	query := wire.NewQuery(1, "www.example.com", wire.TypeA, wire.ClassIN, true)

	resp, ok := h.Handle(context.Background(), query)
	if !ok {
		t.Fatal("expected Handle to answer a name within its zone")
	}
	if resp.Header.Rcode != wire.RcodeSuccess {
		t.Errorf("Rcode = %d, want Success", resp.Header.Rcode)
	}
	if !resp.Header.AA {
		t.Error("expected AA bit set on an authoritative answer")
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(resp.Answer))
	}
}

func TestHandleReturnsNXDOMAINForMissingName(t *testing.T) {
	h := New(mustParse(t))
	query := wire.NewQuery(2, "nonexistent.example.com", wire.TypeA, wire.ClassIN, true)

	resp, ok := h.Handle(context.Background(), query)
	if !ok {
		t.Fatal("expected Handle to answer (even negatively) for a name within its zone")
	}
	if resp.Header.Rcode != wire.RcodeNameError {
		t.Errorf("Rcode = %d, want NameError", resp.Header.Rcode)
	}
	if len(resp.Authority) != 1 {
		t.Errorf("expected SOA in authority section, got %d records", len(resp.Authority))
	}
}

func TestHandleReturnsNODATAForWrongType(t *testing.T) {
	h := New(mustParse(t))
	query := wire.NewQuery(3, "www.example.com", wire.TypeAAAA, wire.ClassIN, true)

	resp, ok := h.Handle(context.Background(), query)
	if !ok {
		t.Fatal("expected Handle to answer")
	}
	if resp.Header.Rcode != wire.RcodeSuccess {
		t.Errorf("Rcode = %d, want Success (NODATA)", resp.Header.Rcode)
	}
	if len(resp.Answer) != 0 {
		t.Errorf("expected empty answer section, got %d", len(resp.Answer))
	}
}

func TestHandleDeclinesNameOutsideZone(t *testing.T) {
	h := New(mustParse(t))
	query := wire.NewQuery(4, "www.other.org", wire.TypeA, wire.ClassIN, true)

	_, ok := h.Handle(context.Background(), query)
	if ok {
		t.Fatal("expected Handle to decline a name outside its zone")
	}
}
