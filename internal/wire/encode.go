package wire

import (
	"encoding/binary"
	"strings"
)

// Serialize renders m to its wire-format byte representation. Section
// counts in the header are recomputed from the actual section contents,
// so counts on the wire always equal section lengths. No name compression
// is emitted (RFC 1035 section 4.1.4 makes it optional; omitting it is
// always interoperable and keeps encode allocation-simple).
func Serialize(m *Message) ([]byte, error) {
	m.syncCounts()

	buf := make([]byte, headerSize, headerSize+64)
	writeHeader(buf, &m.Header)

	var err error
	for _, q := range m.Question {
		if buf, err = appendQuestion(buf, q); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Answer {
		if buf, err = appendRR(buf, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Authority {
		if buf, err = appendRR(buf, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Additional {
		if buf, err = appendRR(buf, rr); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

func writeHeader(buf []byte, h *Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.ID)

	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	// Z (bits 4-6) is always written zero, per spec.
	flags |= uint16(h.Rcode & 0x0F)
	binary.BigEndian.PutUint16(buf[2:4], flags)

	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
}

func appendQuestion(buf []byte, q Question) ([]byte, error) {
	buf, err := appendName(buf, q.Name)
	if err != nil {
		return nil, err
	}
	var tmp [4]byte
	binary.BigEndian.PutUint16(tmp[0:2], q.Type)
	binary.BigEndian.PutUint16(tmp[2:4], q.Class)
	return append(buf, tmp[:]...), nil
}

func appendRR(buf []byte, rr ResourceRecord) ([]byte, error) {
	buf, err := appendName(buf, rr.Name)
	if err != nil {
		return nil, err
	}
	var tmp [10]byte
	binary.BigEndian.PutUint16(tmp[0:2], rr.Type)
	binary.BigEndian.PutUint16(tmp[2:4], rr.Class)
	binary.BigEndian.PutUint32(tmp[4:8], uint32(rr.TTL))
	binary.BigEndian.PutUint16(tmp[8:10], uint16(len(rr.RData)))
	buf = append(buf, tmp[:]...)
	return append(buf, rr.RData...), nil
}

// appendName encodes name (e.g. "example.com." or "example.com") as a
// sequence of length-prefixed labels terminated by a zero byte. A single
// optional trailing dot is stripped before splitting; an empty name
// (root) encodes as the single byte 0x00.
func appendName(buf []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return append(buf, 0x00), nil
	}

	labels := strings.Split(name, ".")
	for _, label := range labels {
		if len(label) == 0 {
			return nil, errEmptyLabel
		}
		if len(label) > maxLabelLength {
			return nil, errLabelTooLong
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0x00), nil
}
