package wire

import (
	"encoding/binary"
	"net"
)

// RDATA presentation helpers. These are not required for wire round-trip
// (ResourceRecord.RData is already the byte-exact wire payload); they
// exist for components that want to interpret a record's meaning, such as
// the static zone handler or diagnostic logging.

// DecodeA interprets rdata as an A record: 4 raw bytes.
func DecodeA(rdata []byte) (net.IP, error) {
	if len(rdata) != 4 {
		return nil, formatErrorf("A record rdata length %d, want 4", len(rdata))
	}
	return net.IP(append([]byte(nil), rdata...)), nil
}

// DecodeAAAA interprets rdata as an AAAA record: 16 raw bytes.
func DecodeAAAA(rdata []byte) (net.IP, error) {
	if len(rdata) != 16 {
		return nil, formatErrorf("AAAA record rdata length %d, want 16", len(rdata))
	}
	return net.IP(append([]byte(nil), rdata...)), nil
}

// EncodeA renders ip as A record rdata.
func EncodeA(ip net.IP) ([]byte, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, formatErrorf("not an IPv4 address: %s", ip)
	}
	return append([]byte(nil), v4...), nil
}

// EncodeAAAA renders ip as AAAA record rdata.
func EncodeAAAA(ip net.IP) ([]byte, error) {
	v6 := ip.To16()
	if v6 == nil {
		return nil, formatErrorf("not an IP address: %s", ip)
	}
	return append([]byte(nil), v6...), nil
}

// DecodeCompressedName decodes a (possibly compressed) name found in
// rdata at byte offset rdataOffset within origMessage. CNAME, NS and PTR
// rdata are names that may use compression pointers referring back into
// the containing message, so they must be decoded against the full
// original message buffer, not the isolated rdata slice.
func DecodeCompressedName(origMessage []byte, rdataOffset int) (string, error) {
	d := &decoder{buf: origMessage, offset: rdataOffset}
	return d.parseName()
}

// DecodeTXT splits rdata into its constituent character-strings, each
// prefixed on the wire by a single length byte.
func DecodeTXT(rdata []byte) ([]string, error) {
	var out []string
	i := 0
	for i < len(rdata) {
		n := int(rdata[i])
		i++
		if i+n > len(rdata) {
			return nil, formatErrorf("TXT character-string overruns rdata")
		}
		out = append(out, string(rdata[i:i+n]))
		i += n
	}
	return out, nil
}

// EncodeTXT renders strs as concatenated TXT character-strings.
func EncodeTXT(strs []string) ([]byte, error) {
	var buf []byte
	for _, s := range strs {
		if len(s) > 255 {
			return nil, formatErrorf("TXT character-string exceeds 255 bytes")
		}
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}

// MXRecord is the decoded form of MX rdata: a 16-bit preference followed
// by a name.
type MXRecord struct {
	Preference uint16
	Exchange   string
}

// DecodeMX decodes rdata (found at rdataOffset within origMessage) as an
// MX record.
func DecodeMX(origMessage []byte, rdataOffset int, rdlen int) (MXRecord, error) {
	if rdataOffset+2 > len(origMessage) {
		return MXRecord{}, errTruncatedRead
	}
	pref := binary.BigEndian.Uint16(origMessage[rdataOffset : rdataOffset+2])
	name, err := DecodeCompressedName(origMessage, rdataOffset+2)
	if err != nil {
		return MXRecord{}, err
	}
	return MXRecord{Preference: pref, Exchange: name}, nil
}

// EncodeMX renders an MX record's rdata. The exchange name is always
// emitted uncompressed.
func EncodeMX(mx MXRecord) ([]byte, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, mx.Preference)
	return appendName(buf, mx.Exchange)
}

// SOARecord is the decoded form of SOA rdata (RFC 1035 section 3.3.13).
type SOARecord struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// DecodeSOA decodes rdata (found at rdataOffset within origMessage) as an
// SOA record: two names followed by five 32-bit fields.
func DecodeSOA(origMessage []byte, rdataOffset int) (SOARecord, error) {
	d := &decoder{buf: origMessage, offset: rdataOffset}

	mname, err := d.parseName()
	if err != nil {
		return SOARecord{}, err
	}
	rname, err := d.parseName()
	if err != nil {
		return SOARecord{}, err
	}

	if d.offset+20 > len(origMessage) {
		return SOARecord{}, errTruncatedRead
	}
	fields := origMessage[d.offset : d.offset+20]
	return SOARecord{
		MName:   mname,
		RName:   rname,
		Serial:  binary.BigEndian.Uint32(fields[0:4]),
		Refresh: binary.BigEndian.Uint32(fields[4:8]),
		Retry:   binary.BigEndian.Uint32(fields[8:12]),
		Expire:  binary.BigEndian.Uint32(fields[12:16]),
		Minimum: binary.BigEndian.Uint32(fields[16:20]),
	}, nil
}

// EncodeSOA renders an SOA record's rdata. Both names are always emitted
// uncompressed.
func EncodeSOA(soa SOARecord) ([]byte, error) {
	buf, err := appendName(nil, soa.MName)
	if err != nil {
		return nil, err
	}
	buf, err = appendName(buf, soa.RName)
	if err != nil {
		return nil, err
	}
	var tail [20]byte
	binary.BigEndian.PutUint32(tail[0:4], soa.Serial)
	binary.BigEndian.PutUint32(tail[4:8], soa.Refresh)
	binary.BigEndian.PutUint32(tail[8:12], soa.Retry)
	binary.BigEndian.PutUint32(tail[12:16], soa.Expire)
	binary.BigEndian.PutUint32(tail[16:20], soa.Minimum)
	return append(buf, tail[:]...), nil
}

// EncodeNameRData renders rdata that is nothing but a single name, as
// used by CNAME, NS and PTR records. The name is always emitted
// uncompressed, and Serialize copies RData as-is without compressing it.
func EncodeNameRData(name string) ([]byte, error) {
	return appendName(nil, name)
}
