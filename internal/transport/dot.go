package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nimbusdns/nimbusd/internal/pool"
	"github.com/nimbusdns/nimbusd/internal/wire"
)

// errZeroLengthMessage signals a length-prefixed frame whose declared
// length is 0, which RFC 7858 treats as a protocol violation rather than
// an empty message to answer.
var errZeroLengthMessage = errors.New("transport/dot: zero-length message frame")

// DoTConfig controls a DNS-over-TLS listener (RFC 7858).
type DoTConfig struct {
	Addr        string
	TLSConfig   *tls.Config // takes precedence over CertFile/KeyFile
	CertFile    string
	KeyFile     string
	IdleTimeout time.Duration // read deadline, renewed before every read; default 30s
}

// DoT is the DNS-over-TLS transport: each message is framed on the wire
// by a 2-byte big-endian length prefix, and a single TLS connection may
// carry many pipelined messages.
type DoT struct {
	cfg     DoTConfig
	deps    Deps
	tlsConf *tls.Config

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewDoT builds a DoT transport after resolving its TLS configuration.
func NewDoT(cfg DoTConfig, deps Deps) (*DoT, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":853"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("transport/dot: TLSConfig or CertFile+KeyFile required")
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport/dot: load certificate: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	return &DoT{cfg: cfg, deps: deps, tlsConf: tlsConf}, nil
}

// Start binds the TLS listener and begins accepting connections.
func (d *DoT) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ln, err := tls.Listen("tcp", d.cfg.Addr, d.tlsConf)
	if err != nil {
		return fmt.Errorf("transport/dot: listen %s: %w", d.cfg.Addr, err)
	}
	d.listener = ln

	d.wg.Add(1)
	go d.acceptLoop(ctx)
	return nil
}

func (d *DoT) acceptLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(ctx, conn)
		}()
	}
}

// streamState names where in a length-prefixed message a connection's
// accumulator currently sits.
type streamState int

const (
	awaitingLength streamState = iota
	awaitingBody
)

// streamDecoder pulls complete length-prefixed DNS messages out of a
// byte stream that may deliver them in arbitrary chunks: one Read() may
// return less than a full message, or more than one message at once.
// This replaces a naive io.ReadFull-per-message loop, which cannot
// correctly drain a read that contains more than one pipelined message
// without losing or re-fragmenting the remainder.
type streamDecoder struct {
	state   streamState
	lenBuf  [2]byte
	lenGot  int
	body    []byte
	bodyGot int
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{state: awaitingLength}
}

// feed consumes all of chunk, appending each complete message decoded
// along the way to out. Partial state (a length prefix or body still
// being accumulated) is carried forward to the next feed call. A 0-byte
// length prefix is a protocol violation (RFC 7858 section 3.3) and feed
// stops and returns errZeroLengthMessage without consuming the rest of
// chunk; the caller must close the connection.
func (s *streamDecoder) feed(chunk []byte, out *[][]byte) error {
	i := 0
	for i < len(chunk) {
		switch s.state {
		case awaitingLength:
			n := copy(s.lenBuf[s.lenGot:], chunk[i:])
			s.lenGot += n
			i += n
			if s.lenGot == 2 {
				msgLen := int(s.lenBuf[0])<<8 | int(s.lenBuf[1])
				if msgLen == 0 {
					return errZeroLengthMessage
				}
				s.body = make([]byte, msgLen)
				s.bodyGot = 0
				s.lenGot = 0
				s.state = awaitingBody
			}

		case awaitingBody:
			n := copy(s.body[s.bodyGot:], chunk[i:])
			s.bodyGot += n
			i += n
			if s.bodyGot == len(s.body) {
				*out = append(*out, s.body)
				s.state = awaitingLength
			}
		}
	}
	return nil
}

func (d *DoT) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var clientIP net.IP
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP
	}

	dec := newStreamDecoder()
	read := pool.GetBuffer(pool.MediumBufferSize)
	defer pool.PutBuffer(read)

	for {
		conn.SetReadDeadline(time.Now().Add(d.cfg.IdleTimeout))

		n, err := conn.Read(read)
		if n > 0 {
			var messages [][]byte
			if feedErr := dec.feed(read[:n], &messages); feedErr != nil {
				return
			}

			for _, msg := range messages {
				if !d.deps.admit(clientIP) {
					return
				}
				out := d.deps.answer(ctx, "dot", msg, wire.MaxMessageSize, true)
				if out == nil {
					continue
				}
				if writeErr := writeFramed(conn, out); writeErr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func writeFramed(conn net.Conn, msg []byte) error {
	header := [2]byte{byte(len(msg) >> 8), byte(len(msg))}
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err := conn.Write(msg)
	return err
}

// Stop closes the listener and waits for in-flight connections to drain
// or ctx to expire.
func (d *DoT) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.listener != nil {
		d.listener.Close()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound listener address, or nil if not started.
func (d *DoT) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}
