package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/nimbusdns/nimbusd/internal/pool"
	"github.com/nimbusdns/nimbusd/internal/wire"
	"golang.org/x/sys/unix"
)

// udpReadBufferBytes sizes the kernel socket receive buffer well above
// its default so a burst of queries doesn't get dropped before a worker
// goroutine can drain the socket.
const udpReadBufferBytes = 4 * 1024 * 1024

// UDPConfig controls a UDP listener.
type UDPConfig struct {
	Addr string
	// Workers is the number of goroutines reading from the socket
	// concurrently. SO_REUSEPORT lets each bind its own socket so the
	// kernel load-balances datagrams across them. Zero means 1 (no
	// SO_REUSEPORT).
	Workers int
}

// UDP is the plain DNS-over-UDP transport (RFC 1035 section 4.2.1).
// Responses that would exceed 512 bytes are truncated with the TC bit
// set, per that section, since this server does not implement EDNS(0)
// size negotiation.
type UDP struct {
	cfg  UDPConfig
	deps Deps

	mu    sync.Mutex
	conns []*net.UDPConn
	wg    sync.WaitGroup
}

// NewUDP builds a UDP transport. It does not bind a socket until Start.
func NewUDP(cfg UDPConfig, deps Deps) *UDP {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &UDP{cfg: cfg, deps: deps}
}

// Start binds cfg.Workers sockets (SO_REUSEPORT when more than one) and
// begins serving.
func (u *UDP) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i := 0; i < u.cfg.Workers; i++ {
		conn, err := u.bind()
		if err != nil {
			return fmt.Errorf("transport/udp: bind %s: %w", u.cfg.Addr, err)
		}
		conn.SetReadBuffer(udpReadBufferBytes)
		conn.SetWriteBuffer(udpReadBufferBytes)
		u.conns = append(u.conns, conn)

		u.wg.Add(1)
		go u.serve(ctx, conn)
	}
	return nil
}

// bind opens one UDP socket for cfg.Addr. When more than one worker is
// configured, SO_REUSEPORT lets the kernel load-balance datagrams across
// the sockets instead of funneling every packet through a single one.
func (u *UDP) bind() (*net.UDPConn, error) {
	if u.cfg.Workers == 1 {
		addr, err := net.ResolveUDPAddr("udp", u.cfg.Addr)
		if err != nil {
			return nil, err
		}
		return net.ListenUDP("udp", addr)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", u.cfg.Addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func (u *UDP) serve(ctx context.Context, conn *net.UDPConn) {
	defer u.wg.Done()

	buf := pool.GetBuffer(wire.MaxMessageSize)
	defer pool.PutBuffer(buf)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed by Stop
		}

		if !u.deps.admit(raddr.IP) {
			continue
		}

		query := append([]byte(nil), buf[:n]...)
		go func() {
			out := u.deps.answer(ctx, "udp", query, wire.MaxUDPMessageSize, false)
			if out == nil {
				return
			}
			conn.WriteToUDP(out, raddr)
		}()
	}
}

// Stop closes every bound socket and waits for serve loops to exit.
func (u *UDP) Stop(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, c := range u.conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the address of the first bound socket, or nil if not
// started.
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.conns) == 0 {
		return nil
	}
	return u.conns[0].LocalAddr()
}
