package upstream

import (
	"bufio"
	"net"
	"os"
	"strings"
)

// resolvConfPath is the standard POSIX location for the system resolver
// configuration. Overridable in tests.
var resolvConfPath = "/etc/resolv.conf"

// defaultFallbackServers is used when UseSystemResolvers is set but
// /etc/resolv.conf cannot be read or names no nameservers at all.
var defaultFallbackServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// ResolveServers determines the ordered list of upstream nameservers a
// Client built from cfg should use. If cfg.Servers is non-empty it is
// returned unchanged. Otherwise, if cfg.UseSystemResolvers is set, the
// system's /etc/resolv.conf is parsed for "nameserver" lines; if that
// yields nothing (missing file, no nameserver lines), it falls back to
// 8.8.8.8 and 1.1.1.1. If neither Servers nor UseSystemResolvers is set,
// ResolveServers returns nil, meaning a Client built from cfg has no
// upstream and its Resolve always fails with ErrNoServers.
func ResolveServers(cfg Config) []string {
	if len(cfg.Servers) > 0 {
		return cfg.Servers
	}
	if !cfg.UseSystemResolvers {
		return nil
	}

	if servers := parseResolvConf(resolvConfPath); len(servers) > 0 {
		return servers
	}
	return defaultFallbackServers
}

// parseResolvConf extracts "nameserver <ip>" entries from a
// resolv.conf(5) style file, returning each as a "host:53" address. A
// bare IPv6 address is bracketed so it can be used with net.Dial. Lines
// that fail to parse as an IP are skipped rather than treated as an
// error, matching glibc's tolerant parsing of this file.
func parseResolvConf(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var servers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		ip := net.ParseIP(fields[1])
		if ip == nil {
			continue
		}
		if ip.To4() == nil {
			servers = append(servers, "["+fields[1]+"]:53")
		} else {
			servers = append(servers, fields[1]+":53")
		}
	}
	return servers
}
