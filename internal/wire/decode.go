package wire

import "encoding/binary"

// decoder parses a single DNS message out of buf. Compression pointers are
// always resolved against buf from offset 0, regardless of where the
// name being decoded started.
type decoder struct {
	buf    []byte
	offset int
}

// Parse decodes buf as a complete DNS message. buf must hold exactly one
// message (transports are responsible for framing). Parse never returns a
// partially built Message: any error is a *FormatError and the returned
// Message is nil.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, errMessageTooShort
	}

	d := &decoder{buf: buf}
	m := &Message{}

	if err := d.parseHeader(&m.Header); err != nil {
		return nil, err
	}

	m.Question = make([]Question, 0, m.Header.QDCount)
	for i := 0; i < int(m.Header.QDCount); i++ {
		q, err := d.parseQuestion()
		if err != nil {
			return nil, err
		}
		m.Question = append(m.Question, q)
	}

	var err error
	if m.Answer, err = d.parseRRSection(int(m.Header.ANCount)); err != nil {
		return nil, err
	}
	if m.Authority, err = d.parseRRSection(int(m.Header.NSCount)); err != nil {
		return nil, err
	}
	if m.Additional, err = d.parseRRSection(int(m.Header.ARCount)); err != nil {
		return nil, err
	}

	return m, nil
}

// PeekID extracts just the transaction ID from buf without validating the
// rest of the message, so a transport can still reply with a well-formed
// FORMERR when Parse rejects the message outright.
func PeekID(buf []byte) (uint16, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf[0:2]), true
}

func (d *decoder) parseHeader(h *Header) error {
	if len(d.buf) < headerSize {
		return errMessageTooShort
	}

	h.ID = binary.BigEndian.Uint16(d.buf[0:2])

	flags := binary.BigEndian.Uint16(d.buf[2:4])
	h.QR = flags&0x8000 != 0
	h.Opcode = uint8((flags >> 11) & 0x0F)
	h.AA = flags&0x0400 != 0
	h.TC = flags&0x0200 != 0
	h.RD = flags&0x0100 != 0
	h.RA = flags&0x0080 != 0
	h.Z = uint8((flags >> 4) & 0x07)
	h.Rcode = uint8(flags & 0x0F)

	h.QDCount = binary.BigEndian.Uint16(d.buf[4:6])
	h.ANCount = binary.BigEndian.Uint16(d.buf[6:8])
	h.NSCount = binary.BigEndian.Uint16(d.buf[8:10])
	h.ARCount = binary.BigEndian.Uint16(d.buf[10:12])

	d.offset = headerSize
	return nil
}

// parseQuestion decodes one Question entry. Unlike resource records, an
// unrecognized qtype or qclass is a format error here: the server has no
// meaningful way to answer a question it cannot classify. See the Open
// Question in the specification about this asymmetry.
func (d *decoder) parseQuestion() (Question, error) {
	var q Question

	name, err := d.parseName()
	if err != nil {
		return q, err
	}
	q.Name = name

	if d.offset+4 > len(d.buf) {
		return q, errTruncatedRead
	}
	q.Type = binary.BigEndian.Uint16(d.buf[d.offset : d.offset+2])
	q.Class = binary.BigEndian.Uint16(d.buf[d.offset+2 : d.offset+4])
	d.offset += 4

	if !knownQuestionTypes[q.Type] {
		return q, errUnknownQType
	}
	if !knownQuestionClasses[q.Class] {
		return q, errUnknownQClass
	}

	return q, nil
}

func (d *decoder) parseRRSection(count int) ([]ResourceRecord, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, err := d.parseRR()
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

// parseRR decodes one resource record. Unknown type/class values are
// preserved verbatim rather than rejected, so OPT, SVCB and DNSSEC record
// types pass through untouched.
func (d *decoder) parseRR() (ResourceRecord, error) {
	var rr ResourceRecord

	name, err := d.parseName()
	if err != nil {
		return rr, err
	}
	rr.Name = name

	if d.offset+10 > len(d.buf) {
		return rr, errTruncatedRead
	}
	rr.Type = binary.BigEndian.Uint16(d.buf[d.offset : d.offset+2])
	rr.Class = binary.BigEndian.Uint16(d.buf[d.offset+2 : d.offset+4])
	rr.TTL = int32(binary.BigEndian.Uint32(d.buf[d.offset+4 : d.offset+8]))
	rdlength := binary.BigEndian.Uint16(d.buf[d.offset+8 : d.offset+10])
	d.offset += 10

	if d.offset+int(rdlength) > len(d.buf) {
		return rr, errTruncatedRead
	}
	rr.RData = make([]byte, rdlength)
	copy(rr.RData, d.buf[d.offset:d.offset+int(rdlength)])
	d.offset += int(rdlength)

	return rr, nil
}

// parseName decodes a domain name starting at d.offset, following
// compression pointers against the original message buffer. It is the
// load-bearing defense against compression-loop attacks (spec §3
// invariants, §8 "Name compression safety"): at most maxCompressionHops
// pointer follows, and the materialised name may never exceed
// maxDomainLength bytes.
func (d *decoder) parseName() (string, error) {
	var labels []string
	nameLen := 0

	cursor := d.offset
	hops := 0
	jumped := false

	for {
		if cursor >= len(d.buf) {
			return "", errTruncatedRead
		}

		lengthByte := d.buf[cursor]
		switch lengthByte & 0xC0 {
		case 0x00: // literal label
			length := int(lengthByte)
			if length == 0 {
				if !jumped {
					d.offset = cursor + 1
				}
				return joinLabels(labels), nil
			}
			if length > maxLabelLength {
				return "", errLabelTooLong
			}
			cursor++
			if cursor+length > len(d.buf) {
				return "", errTruncatedRead
			}
			label := make([]byte, length)
			copy(label, d.buf[cursor:cursor+length])
			labels = append(labels, string(label))
			nameLen += length + 1
			if nameLen > maxDomainLength {
				return "", errNameTooLong
			}
			cursor += length

		case 0xC0: // compression pointer
			if cursor+2 > len(d.buf) {
				return "", errTruncatedRead
			}
			ptr := int(binary.BigEndian.Uint16(d.buf[cursor:cursor+2]) & 0x3FFF)

			// The pointer's target must lie strictly before the pointer's
			// own byte position. This rejects self and forward pointers,
			// but after a jump the cursor moves forward again through the
			// target's labels, so pointers can still form a cycle;
			// maxCompressionHops below is what bounds the loop.
			if ptr >= cursor {
				return "", errCompressionBackward
			}

			if !jumped {
				d.offset = cursor + 2
				jumped = true
			}

			hops++
			if hops > maxCompressionHops {
				return "", errCompressionHops
			}

			cursor = ptr

		default: // 0x40 or 0x80: reserved, never legal
			return "", errReservedLabelBits
		}
	}
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	total := 0
	for _, l := range labels {
		total += len(l) + 1
	}
	buf := make([]byte, 0, total)
	for i, l := range labels {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, l...)
	}
	return string(buf)
}
