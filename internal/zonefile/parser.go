package zonefile

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

// Config controls zone file parsing.
type Config struct {
	// DefaultTTL applies to any record whose section doesn't set its own.
	DefaultTTL uint32
	// Strict fails the load if the zone has no SOA or no NS records.
	Strict bool
}

// DefaultConfig returns the parser defaults.
func DefaultConfig() Config {
	return Config{DefaultTTL: 3600, Strict: true}
}

// document mirrors the on-disk YAML shape. Template expansion and
// DNSSEC key management are out of scope for static serving and are not
// part of this shape.
type document struct {
	Zone    zoneSection              `yaml:"zone"`
	SOA     soaSection               `yaml:"soa"`
	Records map[string]recordSection `yaml:"records"`
}

type zoneSection struct {
	Name string `yaml:"name"`
	TTL  string `yaml:"ttl,omitempty"`
}

type soaSection struct {
	PrimaryNS   string `yaml:"primary_ns"`
	Contact     string `yaml:"contact"`
	Serial      string `yaml:"serial"`
	Refresh     string `yaml:"refresh"`
	Retry       string `yaml:"retry"`
	Expire      string `yaml:"expire"`
	NegativeTTL string `yaml:"negative_ttl"`
}

type recordSection struct {
	A     interface{} `yaml:"A,omitempty"`
	AAAA  interface{} `yaml:"AAAA,omitempty"`
	CNAME string      `yaml:"CNAME,omitempty"`
	MX    []mxEntry   `yaml:"MX,omitempty"`
	NS    interface{} `yaml:"NS,omitempty"`
	TXT   interface{} `yaml:"TXT,omitempty"`

	TTL int `yaml:"ttl,omitempty"`
}

type mxEntry struct {
	Priority int    `yaml:"priority"`
	Target   string `yaml:"target"`
}

// ParseFile loads and parses a YAML zone definition from filename.
func ParseFile(filename string, cfg Config) (*Zone, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("zonefile: read %s: %w", filename, err)
	}
	return Parse(data, cfg)
}

// Parse parses a YAML zone definition already read into memory.
func Parse(data []byte, cfg Config) (*Zone, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("zonefile: parse YAML: %w", err)
	}
	if doc.Zone.Name == "" {
		return nil, fmt.Errorf("zonefile: zone.name is required")
	}

	z := New(doc.Zone.Name)

	defaultTTL := cfg.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = DefaultConfig().DefaultTTL
	}
	if doc.Zone.TTL != "" {
		ttl, err := parseDuration(doc.Zone.TTL)
		if err != nil {
			return nil, fmt.Errorf("zonefile: zone.ttl: %w", err)
		}
		defaultTTL = uint32(ttl.Seconds())
	}

	if doc.SOA != (soaSection{}) {
		soaRR, err := buildSOA(doc.SOA, z.Origin, defaultTTL)
		if err != nil {
			return nil, fmt.Errorf("zonefile: soa: %w", err)
		}
		if err := z.addRecord(soaRR); err != nil {
			return nil, err
		}
	}

	for owner, section := range doc.Records {
		ttl := defaultTTL
		if section.TTL > 0 {
			ttl = uint32(section.TTL)
		}
		fqdn := fullyQualify(owner, z.Origin)

		if err := addA(z, fqdn, section.A, ttl); err != nil {
			return nil, fmt.Errorf("zonefile: %s: A: %w", owner, err)
		}
		if err := addAAAA(z, fqdn, section.AAAA, ttl); err != nil {
			return nil, fmt.Errorf("zonefile: %s: AAAA: %w", owner, err)
		}
		if section.CNAME != "" {
			if err := addCNAME(z, fqdn, section.CNAME, ttl); err != nil {
				return nil, fmt.Errorf("zonefile: %s: CNAME: %w", owner, err)
			}
		}
		if err := addMX(z, fqdn, section.MX, ttl); err != nil {
			return nil, fmt.Errorf("zonefile: %s: MX: %w", owner, err)
		}
		if err := addNS(z, fqdn, section.NS, ttl); err != nil {
			return nil, fmt.Errorf("zonefile: %s: NS: %w", owner, err)
		}
		if err := addTXT(z, fqdn, section.TXT, ttl); err != nil {
			return nil, fmt.Errorf("zonefile: %s: TXT: %w", owner, err)
		}
	}

	if cfg.Strict {
		if err := validate(z); err != nil {
			return nil, fmt.Errorf("zonefile: %w", err)
		}
	}
	return z, nil
}

func validate(z *Zone) error {
	if !z.hasSOA {
		return fmt.Errorf("zone %s has no SOA record", z.Origin)
	}
	if _, ok := z.Lookup(z.Origin, wire.TypeNS); !ok {
		return fmt.Errorf("zone %s has no NS records at its apex", z.Origin)
	}
	return nil
}

func buildSOA(s soaSection, origin string, ttl uint32) (wire.ResourceRecord, error) {
	var serial uint64
	var err error
	if s.Serial == "auto" || s.Serial == "" {
		today := time.Now().Format("20060102")
		serial, _ = strconv.ParseUint(today+"00", 10, 32)
	} else {
		serial, err = strconv.ParseUint(s.Serial, 10, 32)
		if err != nil {
			return wire.ResourceRecord{}, fmt.Errorf("invalid serial %q: %w", s.Serial, err)
		}
	}

	refresh, err := parseSeconds(s.Refresh)
	if err != nil {
		return wire.ResourceRecord{}, fmt.Errorf("invalid refresh: %w", err)
	}
	retry, err := parseSeconds(s.Retry)
	if err != nil {
		return wire.ResourceRecord{}, fmt.Errorf("invalid retry: %w", err)
	}
	expire, err := parseSeconds(s.Expire)
	if err != nil {
		return wire.ResourceRecord{}, fmt.Errorf("invalid expire: %w", err)
	}
	negTTL, err := parseSeconds(s.NegativeTTL)
	if err != nil {
		return wire.ResourceRecord{}, fmt.Errorf("invalid negative_ttl: %w", err)
	}

	rdata, err := wire.EncodeSOA(wire.SOARecord{
		MName:   dns.Fqdn(s.PrimaryNS),
		RName:   formatContact(s.Contact),
		Serial:  uint32(serial),
		Refresh: refresh,
		Retry:   retry,
		Expire:  expire,
		Minimum: negTTL,
	})
	if err != nil {
		return wire.ResourceRecord{}, err
	}

	return wire.ResourceRecord{Name: origin, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}, nil
}

func addA(z *Zone, owner string, data interface{}, ttl uint32) error {
	ips, err := stringOrList(data)
	if err != nil {
		return err
	}
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address %q", s)
		}
		rdata, err := wire.EncodeA(ip)
		if err != nil {
			return err
		}
		if err := z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeA, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}); err != nil {
			return err
		}
	}
	return nil
}

func addAAAA(z *Zone, owner string, data interface{}, ttl uint32) error {
	ips, err := stringOrList(data)
	if err != nil {
		return err
	}
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil || ip.To16() == nil {
			return fmt.Errorf("invalid IPv6 address %q", s)
		}
		rdata, err := wire.EncodeAAAA(ip)
		if err != nil {
			return err
		}
		if err := z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeAAAA, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}); err != nil {
			return err
		}
	}
	return nil
}

func addCNAME(z *Zone, owner, target string, ttl uint32) error {
	rdata, err := wire.EncodeNameRData(dns.Fqdn(target))
	if err != nil {
		return err
	}
	return z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeCNAME, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata})
}

func addMX(z *Zone, owner string, entries []mxEntry, ttl uint32) error {
	for _, e := range entries {
		rdata, err := wire.EncodeMX(wire.MXRecord{Preference: uint16(e.Priority), Exchange: dns.Fqdn(e.Target)})
		if err != nil {
			return err
		}
		if err := z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeMX, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}); err != nil {
			return err
		}
	}
	return nil
}

func addNS(z *Zone, owner string, data interface{}, ttl uint32) error {
	names, err := stringOrList(data)
	if err != nil {
		return err
	}
	for _, n := range names {
		rdata, err := wire.EncodeNameRData(dns.Fqdn(n))
		if err != nil {
			return err
		}
		if err := z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeNS, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}); err != nil {
			return err
		}
	}
	return nil
}

func addTXT(z *Zone, owner string, data interface{}, ttl uint32) error {
	strs, err := stringOrList(data)
	if err != nil {
		return err
	}
	for _, s := range strs {
		rdata, err := wire.EncodeTXT([]string{s})
		if err != nil {
			return err
		}
		if err := z.addRecord(wire.ResourceRecord{Name: owner, Type: wire.TypeTXT, Class: wire.ClassIN, TTL: int32(ttl), RData: rdata}); err != nil {
			return err
		}
	}
	return nil
}

// stringOrList accepts either a bare YAML scalar or a list for fields
// that commonly hold one value (an A record) or several (round-robin A
// records, multiple NS records).
func stringOrList(data interface{}) ([]string, error) {
	if data == nil {
		return nil, nil
	}
	switch v := data.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list entry, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", data)
	}
}

func fullyQualify(name, origin string) string {
	if name == "" || name == "@" {
		return origin
	}
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "." + origin
}

// parseDuration parses a duration string, additionally accepting "d"
// (days) and "w" (weeks) suffixes alongside Go's own time.ParseDuration
// vocabulary, matching the shorthand used in zone file TTL fields.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "w") {
		weeks, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err != nil {
			return 0, err
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func parseSeconds(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("value is required")
	}
	if d, err := parseDuration(s); err == nil {
		return uint32(d.Seconds()), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid time value %q", s)
	}
	return uint32(n), nil
}

func formatContact(email string) string {
	return dns.Fqdn(strings.ReplaceAll(email, "@", "."))
}
