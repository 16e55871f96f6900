package upstream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

func TestApply0x20PreservesNameIgnoringCase(t *testing.T) {
	name := "www.example.com"
	got := apply0x20(name)
	if !strings.EqualFold(got, name) {
		t.Fatalf("apply0x20(%q) = %q, not case-fold equal", name, got)
	}
}

func TestQueryOneRejectsQuestionNameMismatch(t *testing.T) {
	addr, closeFn := fakeServer(t, func(q *wire.Message) *wire.Message {
		resp := wire.NewResponse(q, nil, nil, nil)
		resp.Question[0].Name = strings.ToLower(resp.Question[0].Name) + "-tampered"
		return resp
	})
	defer closeFn()

	c := New(Config{Servers: []string{addr}, Timeout: time.Second})
	defer c.Close()

	_, err := c.Resolve(context.Background(), "example.com", wire.TypeA, wire.ClassIN)
	if err == nil {
		t.Fatal("expected Resolve to fail over away from a server that alters the question name")
	}
}
