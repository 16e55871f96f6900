// Package ratelimit provides client access control and per-client query
// rate limiting for the transports.
package ratelimit

import "net"

// ACL decides whether a client address may submit queries at all, before
// any rate limiting is considered. Evaluation order is deny list, then
// allow list, then the configured default.
type ACL struct {
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// NewACL returns an ACL with no entries, falling back to defaultAllow for
// any client not matched by AllowNet or DenyNet.
func NewACL(defaultAllow bool) *ACL {
	return &ACL{defaultAllow: defaultAllow}
}

// AllowNet adds cidr (a CIDR or bare IP) to the allow list.
func (a *ACL) AllowNet(cidr string) error {
	ipnet, err := parseNetOrIP(cidr)
	if err != nil {
		return err
	}
	a.allowedNets = append(a.allowedNets, ipnet)
	return nil
}

// DenyNet adds cidr (a CIDR or bare IP) to the deny list.
func (a *ACL) DenyNet(cidr string) error {
	ipnet, err := parseNetOrIP(cidr)
	if err != nil {
		return err
	}
	a.deniedNets = append(a.deniedNets, ipnet)
	return nil
}

// IsAllowed reports whether ip may query this server.
func (a *ACL) IsAllowed(ip net.IP) bool {
	if a == nil {
		return true
	}
	for _, denied := range a.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range a.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return a.defaultAllow
}

func parseNetOrIP(s string) (*net.IPNet, error) {
	if _, ipnet, err := net.ParseCIDR(s); err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, &net.ParseError{Type: "CIDR address or IP address", Text: s}
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
