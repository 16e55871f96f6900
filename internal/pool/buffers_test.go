package pool

import (
	"testing"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

func TestMessagePoolResetsOnPut(t *testing.T) {
	msg := GetMessage()
	msg.Header.ID = 0x1234
	msg.Question = append(msg.Question, wire.Question{Name: "example.com"})

	PutMessage(msg)

	msg2 := GetMessage()
	if msg2.Header.ID != 0 {
		t.Errorf("message not reset: ID = %d, want 0", msg2.Header.ID)
	}
	if len(msg2.Question) != 0 {
		t.Errorf("message not reset: Question len = %d, want 0", len(msg2.Question))
	}
}

func TestPutMessageNilDoesNotPanic(t *testing.T) {
	PutMessage(nil)
}

func TestGetBufferPicksSmallestFittingTier(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{100, SmallBufferSize},
		{SmallBufferSize, SmallBufferSize},
		{SmallBufferSize + 1, MediumBufferSize},
		{MediumBufferSize, MediumBufferSize},
		{MediumBufferSize + 1, LargeBufferSize},
	}
	for _, c := range cases {
		buf := GetBuffer(c.size)
		if cap(buf) != c.want {
			t.Errorf("GetBuffer(%d) cap = %d, want %d", c.size, cap(buf), c.want)
		}
		if len(buf) != c.want {
			t.Errorf("GetBuffer(%d) len = %d, want %d", c.size, len(buf), c.want)
		}
		PutBuffer(buf)
	}
}

func TestPutBufferIgnoresUnrecognizedCapacity(t *testing.T) {
	// Should not panic even though this buffer matches no tier.
	PutBuffer(make([]byte, 17))
}

func BenchmarkMessagePool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		msg := GetMessage()
		msg.Question = append(msg.Question, wire.Question{Name: "example.com"})
		PutMessage(msg)
	}
}

func BenchmarkGetBuffer(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(512)
		PutBuffer(buf)
	}
}
