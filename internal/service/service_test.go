package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nimbusdns/nimbusd/internal/cache"
	"github.com/nimbusdns/nimbusd/internal/ratelimit"
	"github.com/nimbusdns/nimbusd/internal/statichandler"
	"github.com/nimbusdns/nimbusd/internal/transport"
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

func TestServiceServesStaticZoneOverUDP(t *testing.T) {
	zone, err := zonefile.Parse([]byte(testZone), zonefile.DefaultConfig())
	if err != nil {
		t.Fatalf("zonefile.Parse() error: %v", err)
	}

	svc := New(Config{
		Cache:   cache.Config{},
		Handler: statichandler.New(zone),
		UDP:     &transport.UDPConfig{Addr: "127.0.0.1:0"},
		ACL:     ratelimit.NewACL(true),
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer svc.Shutdown(ctx)

	addr := findUDPAddr(t, svc)

	client, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	query := wire.NewQuery(0xBEEF, "www.example.com", wire.TypeA, wire.ClassIN, true)
	out, err := wire.Serialize(query)
	if err != nil {
		t.Fatal(err)
	}

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(out); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	buf := make([]byte, wire.MaxMessageSize)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	resp, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if resp.Header.Rcode != wire.RcodeSuccess {
		t.Errorf("Rcode = %d, want Success", resp.Header.Rcode)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(resp.Answer))
	}
}

func TestServiceReturnsNXDOMAINAndCachesIt(t *testing.T) {
	zone, err := zonefile.Parse([]byte(testZone), zonefile.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	svc := New(Config{
		Handler: statichandler.New(zone),
		UDP:     &transport.UDPConfig{Addr: "127.0.0.1:0"},
		ACL:     ratelimit.NewACL(true),
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer svc.Shutdown(ctx)

	addr := findUDPAddr(t, svc)
	client, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	query := wire.NewQuery(1, "missing.example.com", wire.TypeA, wire.ClassIN, true)
	out, _ := wire.Serialize(query)
	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write(out)

	buf := make([]byte, 512)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Rcode != wire.RcodeNameError {
		t.Fatalf("Rcode = %d, want NameError", resp.Header.Rcode)
	}

	if stats := svc.Stats(); stats.Size == 0 {
		t.Error("expected the negative answer to be cached")
	}
}

func findUDPAddr(t *testing.T, svc *Service) string {
	t.Helper()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, tr := range svc.transports {
		if a := tr.Addr(); a != nil {
			return a.String()
		}
	}
	t.Fatal("no running transport found")
	return ""
}
