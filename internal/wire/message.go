// Package wire implements RFC 1035 DNS message encoding and decoding,
// including name compression, with the security limits necessary to
// survive a hostile wire (compression loops, oversized sections).
package wire

// Header constants and section limits (RFC 1035 section 4.1.1).
const (
	headerSize = 12

	maxLabelLength  = 63
	maxDomainLength = 255

	// maxCompressionHops bounds the number of pointer follows a single
	// name decode may perform. Chosen well above any legitimate message
	// (RFC 1035 names are short) and well below what it would take to
	// build a useful amplification or CPU-exhaustion primitive.
	maxCompressionHops = 10

	// MaxUDPMessageSize is the wire-level ceiling for a response sent over
	// plain UDP in this core; larger responses are truncated with TC set.
	MaxUDPMessageSize = 512

	// MaxMessageSize bounds any single DNS message regardless of transport.
	MaxMessageSize = 65535
)

// Opcode values (RFC 1035 section 4.1.1).
const (
	OpQuery  uint8 = 0
	OpIQuery uint8 = 1
	OpStatus uint8 = 2
)

// RCODE values actually produced or consumed by this core.
const (
	RcodeSuccess        uint8 = 0
	RcodeFormatError    uint8 = 1
	RcodeServerFailure  uint8 = 2
	RcodeNameError      uint8 = 3 // NXDOMAIN
	RcodeNotImplemented uint8 = 4
	RcodeRefused        uint8 = 5
)

// Recognized QTYPE / TYPE values.
const (
	TypeA     uint16 = 1
	TypeNS    uint16 = 2
	TypeCNAME uint16 = 5
	TypeSOA   uint16 = 6
	TypePTR   uint16 = 12
	TypeMX    uint16 = 15
	TypeTXT   uint16 = 16
	TypeAAAA  uint16 = 28
	TypeOPT   uint16 = 41
	TypeANY   uint16 = 255
)

// Recognized QCLASS / CLASS values.
const (
	ClassIN  uint16 = 1
	ClassCH  uint16 = 3
	ClassHS  uint16 = 4
	ClassANY uint16 = 255
)

var knownQuestionTypes = map[uint16]bool{
	TypeA: true, TypeNS: true, TypeCNAME: true, TypeSOA: true, TypePTR: true,
	TypeMX: true, TypeTXT: true, TypeAAAA: true, TypeOPT: true, TypeANY: true,
}

var knownQuestionClasses = map[uint16]bool{
	ClassIN: true, ClassCH: true, ClassHS: true, ClassANY: true,
}

// Header is the fixed 12-byte DNS message header (RFC 1035 section 4.1.1).
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       uint8 // reserved, 3 bits, must be zero on encode
	Rcode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is one entry of the Question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// ResourceRecord is one entry of the Answer, Authority or Additional
// section. RData is the raw wire bytes of the record, copied out of the
// source buffer so the Message does not alias caller-owned memory.
type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   int32
	RData []byte
}

// Message is a fully decoded DNS message. Once returned from Parse or
// built via the constructors below, a Message is treated as immutable by
// the rest of this module; callers should not mutate a Message that has
// already been handed to another component.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// IsResponse reports whether the QR bit marks this message as a response.
func (m *Message) IsResponse() bool {
	return m.Header.QR
}

// Clone returns a deep-enough copy of m: section slices and RData byte
// slices are copied, so mutating the result never aliases m.
func (m *Message) Clone() *Message {
	out := &Message{Header: m.Header}
	out.Question = append([]Question(nil), m.Question...)
	out.Answer = cloneRRs(m.Answer)
	out.Authority = cloneRRs(m.Authority)
	out.Additional = cloneRRs(m.Additional)
	return out
}

func cloneRRs(rrs []ResourceRecord) []ResourceRecord {
	if rrs == nil {
		return nil
	}
	out := make([]ResourceRecord, len(rrs))
	for i, rr := range rrs {
		out[i] = rr
		out[i].RData = append([]byte(nil), rr.RData...)
	}
	return out
}

// NewQuery builds a query Message for (name, qtype, qclass) with a fresh
// id and RD set as requested. Intended for outbound use (e.g. the
// upstream client rewriting a query's id).
func NewQuery(id uint16, name string, qtype, qclass uint16, rd bool) *Message {
	return &Message{
		Header: Header{
			ID:      id,
			Opcode:  OpQuery,
			RD:      rd,
			QDCount: 1,
		},
		Question: []Question{{Name: name, Type: qtype, Class: qclass}},
	}
}

// NewResponse builds a successful response to query, echoing its id,
// Question section and RD bit, with QR=1, RA=1 and RCODE=Success.
func NewResponse(query *Message, answer, authority, additional []ResourceRecord) *Message {
	m := &Message{
		Header: Header{
			ID:     query.Header.ID,
			Opcode: query.Header.Opcode,
			QR:     true,
			RA:     true,
			RD:     query.Header.RD,
			Rcode:  RcodeSuccess,
		},
		Question:   append([]Question(nil), query.Question...),
		Answer:     answer,
		Authority:  authority,
		Additional: additional,
	}
	m.syncCounts()
	return m
}

// NewError builds an error response to query carrying the given RCODE,
// echoing id, Question section and RD bit, with empty sections.
func NewError(query *Message, rcode uint8) *Message {
	m := &Message{
		Header: Header{
			ID:     query.Header.ID,
			Opcode: query.Header.Opcode,
			QR:     true,
			RA:     true,
			RD:     query.Header.RD,
			Rcode:  rcode,
		},
		Question: append([]Question(nil), query.Question...),
	}
	m.syncCounts()
	return m
}

// NewUnparsableError builds a minimal error response carrying only id and
// rcode, for the case where the query itself could not be parsed well
// enough to build a full Message to echo.
func NewUnparsableError(id uint16, rcode uint8) *Message {
	return &Message{
		Header: Header{
			ID:    id,
			QR:    true,
			RA:    true,
			Rcode: rcode,
		},
	}
}

// syncCounts recomputes the header section counts from the actual section
// lengths, as required before Serialize.
func (m *Message) syncCounts() {
	m.Header.QDCount = uint16(len(m.Question))
	m.Header.ANCount = uint16(len(m.Answer))
	m.Header.NSCount = uint16(len(m.Authority))
	m.Header.ARCount = uint16(len(m.Additional))
}
