// Package pool holds sync.Pool-backed allocators for the byte buffers and
// wire.Message values that sit on the hot path of every query, to keep
// per-query garbage down under sustained load.
package pool

import (
	"sync"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

// Buffer sizes matching the wire package's transport-driven ceilings.
const (
	SmallBufferSize  = wire.MaxUDPMessageSize // 512, the common UDP case
	MediumBufferSize = 4096                   // large EDNS0 responses
	LargeBufferSize  = wire.MaxMessageSize     // 65535, the TCP/DoT/DoQ ceiling
)

var messagePool = sync.Pool{
	New: func() interface{} { return new(wire.Message) },
}

// GetMessage returns a zeroed *wire.Message from the pool.
func GetMessage() *wire.Message {
	return messagePool.Get().(*wire.Message)
}

// PutMessage clears msg and returns it to the pool. Slices are truncated
// rather than discarded so their backing arrays are reused.
func PutMessage(msg *wire.Message) {
	if msg == nil {
		return
	}
	msg.Header = wire.Header{}
	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Authority = msg.Authority[:0]
	msg.Additional = msg.Additional[:0]
	messagePool.Put(msg)
}

var (
	smallBufferPool  = newBufferPool(SmallBufferSize)
	mediumBufferPool = newBufferPool(MediumBufferSize)
	largeBufferPool  = newBufferPool(LargeBufferSize)
)

func newBufferPool(size int) *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// GetBuffer returns a buffer at least size bytes long, drawn from the
// smallest tier that fits.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return getFrom(smallBufferPool, SmallBufferSize)
	case size <= MediumBufferSize:
		return getFrom(mediumBufferPool, MediumBufferSize)
	default:
		return getFrom(largeBufferPool, LargeBufferSize)
	}
}

func getFrom(p *sync.Pool, size int) []byte {
	bufPtr := p.Get().(*[]byte)
	return (*bufPtr)[:size]
}

// PutBuffer returns buf to the pool matching its capacity. Buffers of an
// unrecognized capacity (e.g. a caller-supplied slice) are simply dropped.
func PutBuffer(buf []byte) {
	switch cap(buf) {
	case SmallBufferSize:
		smallBufferPool.Put(&buf)
	case MediumBufferSize:
		mediumBufferPool.Put(&buf)
	case LargeBufferSize:
		largeBufferPool.Put(&buf)
	}
}
