package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/nimbusdns/nimbusd/internal/pool"
	"github.com/quic-go/quic-go"
)

// nextProtoDoQ is the ALPN token identifying DNS-over-QUIC (RFC 9250
// section 4.1.1).
const nextProtoDoQ = "doq"

// DoQConfig controls a DNS-over-QUIC listener (RFC 9250).
type DoQConfig struct {
	Addr      string
	TLSConfig *tls.Config // takes precedence over CertFile/KeyFile
	CertFile  string
	KeyFile   string
}

// DoQ is the DNS-over-QUIC transport: each query is sent on its own
// bidirectional QUIC stream and delimited by the stream's FIN, not a
// length prefix, since QUIC streams are already message-oriented at the
// framing layer.
type DoQ struct {
	cfg     DoQConfig
	deps    Deps
	tlsConf *tls.Config

	mu       sync.Mutex
	listener *quic.Listener
	wg       sync.WaitGroup
}

// NewDoQ builds a DoQ transport after resolving its TLS configuration
// and stamping the required ALPN token onto it.
func NewDoQ(cfg DoQConfig, deps Deps) (*DoQ, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":853"
	}

	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("transport/doq: TLSConfig or CertFile+KeyFile required")
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport/doq: load certificate: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{nextProtoDoQ}

	return &DoQ{cfg: cfg, deps: deps, tlsConf: tlsConf}, nil
}

// Start binds the QUIC listener and begins accepting connections.
func (q *DoQ) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ln, err := quic.ListenAddr(q.cfg.Addr, q.tlsConf, nil)
	if err != nil {
		return fmt.Errorf("transport/doq: listen %s: %w", q.cfg.Addr, err)
	}
	q.listener = ln

	q.wg.Add(1)
	go q.acceptLoop(ctx)
	return nil
}

func (q *DoQ) acceptLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		conn, err := q.listener.Accept(ctx)
		if err != nil {
			return
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.serveConnection(ctx, conn)
		}()
	}
}

func (q *DoQ) serveConnection(ctx context.Context, conn *quic.Conn) {
	var clientIP net.IP
	if addr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		clientIP = addr.IP
	}

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if !q.deps.admit(clientIP) {
			stream.CancelRead(0)
			stream.Close()
			continue
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.serveStream(ctx, stream)
		}()
	}
}

// serveStream reads one complete query delimited by the stream's FIN,
// answers it, writes the response and closes the stream. RFC 9250
// requires the client to half-close its send side after writing the
// query and the server to do the same after writing the response.
//
// Bytes are accumulated only up to maxQUICMessageSize; a stream that
// keeps sending past that cap is cancelled rather than read
// indefinitely. There is no read deadline: a stream that stays under the
// cap without sending a FIN is read until the connection ends.
func (q *DoQ) serveStream(ctx context.Context, stream *quic.Stream) {
	defer stream.Close()

	buf := pool.GetBuffer(maxQUICMessageSize)
	defer pool.PutBuffer(buf)

	n := 0
	for n < len(buf) {
		m, err := stream.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				break
			}
			return
		}
	}

	if n == len(buf) {
		// buf is exactly full; probe for one more byte to tell an
		// exact-cap message from one that keeps going past the cap.
		var probe [1]byte
		if m, err := stream.Read(probe[:]); m > 0 || err == nil {
			stream.CancelRead(0)
			return
		}
	}

	out := q.deps.answer(ctx, "doq", buf[:n], maxQUICMessageSize, true)
	if out == nil {
		return
	}
	stream.Write(out)
}

const maxQUICMessageSize = 65535

// Stop closes the listener and waits for in-flight streams to drain or
// ctx to expire.
func (q *DoQ) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.listener != nil {
		q.listener.Close()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
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
func (q *DoQ) Addr() net.Addr {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}
