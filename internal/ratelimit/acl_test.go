package ratelimit

import (
	"net"
	"testing"
)

func TestACLDefaultAllow(t *testing.T) {
	a := NewACL(true)
	if !a.IsAllowed(net.ParseIP("203.0.113.5")) {
		t.Fatal("expected default-allow ACL to allow unmatched IP")
	}
}

func TestACLDefaultDeny(t *testing.T) {
	a := NewACL(false)
	if a.IsAllowed(net.ParseIP("203.0.113.5")) {
		t.Fatal("expected default-deny ACL to reject unmatched IP")
	}
}

func TestACLAllowNet(t *testing.T) {
	a := NewACL(false)
	if err := a.AllowNet("10.0.0.0/8"); err != nil {
		t.Fatal(err)
	}
	if !a.IsAllowed(net.ParseIP("10.1.2.3")) {
		t.Error("expected 10.1.2.3 to be allowed")
	}
	if a.IsAllowed(net.ParseIP("192.168.1.1")) {
		t.Error("expected 192.168.1.1 to fall through to default deny")
	}
}

func TestACLDenyOverridesAllow(t *testing.T) {
	a := NewACL(true)
	if err := a.AllowNet("10.0.0.0/8"); err != nil {
		t.Fatal(err)
	}
	if err := a.DenyNet("10.1.2.3/32"); err != nil {
		t.Fatal(err)
	}
	if a.IsAllowed(net.ParseIP("10.1.2.3")) {
		t.Error("expected explicit deny to take precedence over allow")
	}
	if !a.IsAllowed(net.ParseIP("10.1.2.4")) {
		t.Error("expected sibling address to still be allowed")
	}
}

func TestACLAllowNetAcceptsBareIP(t *testing.T) {
	a := NewACL(false)
	if err := a.AllowNet("203.0.113.9"); err != nil {
		t.Fatal(err)
	}
	if !a.IsAllowed(net.ParseIP("203.0.113.9")) {
		t.Error("expected bare IP to be treated as a /32")
	}
}

func TestNilACLAllowsEverything(t *testing.T) {
	var a *ACL
	if !a.IsAllowed(net.ParseIP("203.0.113.9")) {
		t.Error("nil ACL should permit everything (no ACL configured)")
	}
}
