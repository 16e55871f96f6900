// Package upstream implements the forwarding leg of the resolution
// pipeline: querying a list of configured upstream nameservers in order
// over UDP, failing over to the next server on any transport error or
// timeout.
//
// Queries are dispatched through a worker.Pool rather than directly on
// the calling goroutine. Blocking upstream I/O would otherwise tie up
// one goroutine per in-flight client query; routing it through a bounded
// pool caps the number of outstanding sockets regardless of how many
// clients are querying concurrently.
//
// Every outbound query name also gets 0x20-encoded (RFC draft
// draft-vixie-dnsext-dns0x20): the case of each letter is randomized and
// the response's echoed question must match it exactly. This adds
// entropy on top of the 16-bit transaction ID that a blind off-path
// attacker would otherwise only need to guess once.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nimbusdns/nimbusd/internal/idgen"
	"github.com/nimbusdns/nimbusd/internal/metrics"
	"github.com/nimbusdns/nimbusd/internal/wire"
	"github.com/nimbusdns/nimbusd/internal/worker"
)

// ErrNoServers is returned when no upstream nameserver produced a usable
// response.
var ErrNoServers = errors.New("upstream: all nameservers failed")

// Config controls upstream query behavior.
type Config struct {
	// Servers is the ordered list of "host:port" nameservers to query.
	// Sequential failover tries them in this order on each query.
	Servers []string

	// UseSystemResolvers, when Servers is empty, makes New/NewWithGenerator
	// populate Servers from /etc/resolv.conf, falling back to 8.8.8.8 and
	// 1.1.1.1 if that file names no usable nameserver. See ResolveServers.
	UseSystemResolvers bool

	// Timeout bounds a single server attempt. Zero means 5 seconds.
	Timeout time.Duration

	// Workers sizes the dispatch pool. Zero means 64.
	Workers int
}

// Client queries upstream nameservers on behalf of the resolver.
type Client struct {
	cfg   Config
	ids   idgen.Generator
	pool  *worker.Pool
	dial  func(ctx context.Context, addr string) (net.Conn, error)
}

// New builds a Client from cfg, using a crypto/rand-backed idgen.Generator.
func New(cfg Config) *Client {
	return NewWithGenerator(cfg, idgen.NewSecure())
}

// NewWithGenerator builds a Client using the supplied transaction ID
// generator, so tests can substitute a deterministic one.
func NewWithGenerator(cfg Config, ids idgen.Generator) *Client {
	cfg.Servers = ResolveServers(cfg)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}

	c := &Client{
		cfg: cfg,
		ids: ids,
		pool: worker.NewPool(worker.Config{
			Workers:   cfg.Workers,
			QueueSize: cfg.Workers * 16,
		}),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "udp", addr)
		},
	}
	return c
}

// Resolve forwards a query for (name, qtype, qclass) to the configured
// upstream servers in order, returning the first usable response. The
// next server is tried after a transport error, a timeout, an unparsable
// reply, or a reply whose id or question does not match the query; any
// reply that passes those checks, including one with an error RCODE, is
// returned as-is.
func (c *Client) Resolve(ctx context.Context, name string, qtype, qclass uint16) (*wire.Message, error) {
	type result struct {
		msg *wire.Message
		err error
	}

	for _, server := range c.cfg.Servers {
		resCh := make(chan result, 1)
		server := server

		job := worker.JobFunc(func(jobCtx context.Context) error {
			msg, err := c.queryOne(jobCtx, server, name, qtype, qclass)
			resCh <- result{msg, err}
			return err
		})

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := c.pool.Submit(attemptCtx, job)
		cancel()

		if err != nil {
			metrics.UpstreamAttempts.WithLabelValues("failure").Inc()
			continue
		}
		r := <-resCh
		if r.err != nil {
			metrics.UpstreamAttempts.WithLabelValues("failure").Inc()
			continue
		}
		metrics.UpstreamAttempts.WithLabelValues("success").Inc()
		return r.msg, nil
	}

	return nil, ErrNoServers
}

func (c *Client) queryOne(ctx context.Context, server, name string, qtype, qclass uint16) (*wire.Message, error) {
	conn, err := c.dial(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	query := wire.NewQuery(c.ids.Next(), apply0x20(name), qtype, qclass, true)
	out, err := wire.Serialize(query)
	if err != nil {
		return nil, fmt.Errorf("upstream: serialize query: %w", err)
	}

	if _, err := conn.Write(out); err != nil {
		return nil, fmt.Errorf("upstream: write to %s: %w", server, err)
	}

	buf := make([]byte, wire.MaxUDPMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("upstream: read from %s: %w", server, err)
	}

	resp, err := wire.Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("upstream: parse response from %s: %w", server, err)
	}
	if resp.Header.ID != query.Header.ID {
		return nil, fmt.Errorf("upstream: id mismatch from %s", server)
	}
	if len(resp.Question) != 1 || resp.Question[0].Name != query.Question[0].Name {
		return nil, fmt.Errorf("upstream: question mismatch from %s (possible spoofed response)", server)
	}

	return resp, nil
}

// Close shuts down the dispatch pool, waiting for in-flight queries to
// finish.
func (c *Client) Close() error {
	return c.pool.Close()
}
