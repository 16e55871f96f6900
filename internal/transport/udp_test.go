package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nimbusdns/nimbusd/internal/ratelimit"
	"github.com/nimbusdns/nimbusd/internal/resolver"
	"github.com/nimbusdns/nimbusd/internal/wire"
)

type staticHandler struct{}

func (staticHandler) Handle(ctx context.Context, q *wire.Message) (*wire.Message, bool) {
	question := q.Question[0]
	if question.Name != "static.example" {
		return nil, false
	}
	rr := []wire.ResourceRecord{{Name: question.Name, Type: wire.TypeA, Class: wire.ClassIN, TTL: 60, RData: []byte{203, 0, 113, 9}}}
	return wire.NewResponse(q, rr, nil, nil), true
}

func TestUDPRoundTrip(t *testing.T) {
	res := resolver.New(resolver.Config{Handler: staticHandler{}})
	deps := Deps{Resolver: res, ACL: ratelimit.NewACL(true)}

	u := NewUDP(UDPConfig{Addr: "127.0.0.1:0"}, deps)
	if err := u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer u.Stop(context.Background())

	client, err := net.Dial("udp", u.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	query := wire.NewQuery(0x1234, "static.example", wire.TypeA, wire.ClassIN, true)
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
	if resp.Header.ID != 0x1234 {
		t.Errorf("ID = %x, want 0x1234", resp.Header.ID)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(resp.Answer))
	}
}

func TestUDPDeniesBlockedClientSilently(t *testing.T) {
	res := resolver.New(resolver.Config{Handler: staticHandler{}})
	acl := ratelimit.NewACL(false) // deny everyone by default

	deps := Deps{Resolver: res, ACL: acl}
	u := NewUDP(UDPConfig{Addr: "127.0.0.1:0"}, deps)
	if err := u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer u.Stop(context.Background())

	client, err := net.Dial("udp", u.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	query := wire.NewQuery(1, "static.example", wire.TypeA, wire.ClassIN, true)
	out, _ := wire.Serialize(query)
	client.Write(out)

	client.SetDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 512)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected no response for a denied client")
	}
}

func TestUDPTruncatesOversizedResponse(t *testing.T) {
	var rrs []wire.ResourceRecord
	for i := 0; i < 40; i++ {
		rrs = append(rrs, wire.ResourceRecord{
			Name: "big.example", Type: wire.TypeTXT, Class: wire.ClassIN, TTL: 60,
			RData: make([]byte, 64),
		})
	}
	h := handlerFunc(func(ctx context.Context, q *wire.Message) (*wire.Message, bool) {
		return wire.NewResponse(q, rrs, nil, nil), true
	})

	res := resolver.New(resolver.Config{Handler: h})
	deps := Deps{Resolver: res, ACL: ratelimit.NewACL(true)}

	u := NewUDP(UDPConfig{Addr: "127.0.0.1:0"}, deps)
	if err := u.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer u.Stop(context.Background())

	client, err := net.Dial("udp", u.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	query := wire.NewQuery(2, "big.example", wire.TypeTXT, wire.ClassIN, true)
	out, _ := wire.Serialize(query)
	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write(out)

	buf := make([]byte, wire.MaxMessageSize)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n > wire.MaxUDPMessageSize {
		t.Fatalf("response %d bytes exceeds UDP ceiling %d", n, wire.MaxUDPMessageSize)
	}

	resp, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Header.TC {
		t.Error("expected TC bit set on truncated response")
	}
	if len(resp.Answer) != 0 {
		t.Error("expected empty answer section on truncated response")
	}
}

// TestUDPDropsUnparsableDatagram covers Testable Property 4: a malformed
// datagram (here, a message header followed by a compression pointer
// that points at itself) fails to parse as a DNS message, and the UDP
// transport drops it rather than replying with a synthesized FORMERR,
// since no client is waiting on an open connection for one.
func TestUDPDropsUnparsableDatagram(t *testing.T) {
	res := resolver.New(resolver.Config{Handler: staticHandler{}})
	deps := Deps{Resolver: res, ACL: ratelimit.NewACL(true)}

	u := NewUDP(UDPConfig{Addr: "127.0.0.1:0"}, deps)
	if err := u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer u.Stop(context.Background())

	client, err := net.Dial("udp", u.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// 12-byte header claiming one question, followed by a name that is
	// just a compression pointer to offset 12 -- itself -- an
	// unconditional loop were it followed.
	malformed := []byte{
		0x00, 0x01, 0x01, 0x00,
		0x00, 0x01, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xC0, 0x0C,
		0x00, 0x01, 0x00, 0x01,
	}
	if _, err := client.Write(malformed); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	client.SetDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 512)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected no reply to an unparsable datagram")
	}
}

type handlerFunc func(ctx context.Context, q *wire.Message) (*wire.Message, bool)

func (f handlerFunc) Handle(ctx context.Context, q *wire.Message) (*wire.Message, bool) {
	return f(ctx, q)
}
