// Package idgen generates DNS transaction identifiers.
//
// A transaction ID is the only correlation token between an outbound
// upstream query and its matching response; guessing it is the core of a
// Kaminsky-style cache poisoning attack, so generation must never use
// math/rand or any other predictable source.
//
// This is exposed as an injectable Generator rather than package-level
// functions so that callers (notably the upstream client) can be
// constructed with a fake generator in tests without touching global
// state.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Generator produces transaction IDs.
type Generator interface {
	Next() uint16
}

// Secure is the production Generator: each call reads 2 bytes from
// crypto/rand. It has no internal state and is safe for concurrent use.
type Secure struct{}

// NewSecure returns a Generator backed by crypto/rand.
func NewSecure() Secure {
	return Secure{}
}

// Next returns a cryptographically random 16-bit transaction ID.
func (Secure) Next() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing indicates a broken host entropy source;
		// proceeding would mean emitting a predictable transaction ID,
		// which is worse than crashing.
		panic(fmt.Sprintf("idgen: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
