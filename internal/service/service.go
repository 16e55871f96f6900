// Package service wires the cache, resolver, upstream client and wire
// transports into one runnable DNS server and owns their lifecycle.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nimbusdns/nimbusd/internal/cache"
	"github.com/nimbusdns/nimbusd/internal/ratelimit"
	"github.com/nimbusdns/nimbusd/internal/resolver"
	"github.com/nimbusdns/nimbusd/internal/transport"
	"github.com/nimbusdns/nimbusd/internal/upstream"
	"github.com/nimbusdns/nimbusd/internal/zonefile"
)

// Config controls a Service's components and listeners. Any transport
// whose *Config field is nil is not started.
type Config struct {
	Cache    cache.Config
	Upstream upstream.Config

	// Handler serves authoritative answers ahead of upstream. Typically
	// statichandler.New(zone), but any resolver.Handler works.
	Handler resolver.Handler

	UDP *transport.UDPConfig
	DoT *transport.DoTConfig
	DoQ *transport.DoQConfig

	ACL       *ratelimit.ACL
	RateLimit ratelimit.Config

	Logger *slog.Logger
}

// Service owns one resolution pipeline and the set of transports
// serving it.
type Service struct {
	cfg    Config
	log    *slog.Logger
	cache  *cache.Cache
	up     *upstream.Client
	res    *resolver.Resolver
	rl     *ratelimit.Limiter

	mu         sync.Mutex
	transports []transport.Transport
}

// New builds a Service from cfg but does not start any listener.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := cache.New(cfg.Cache)

	var up *upstream.Client
	if len(cfg.Upstream.Servers) > 0 || cfg.Upstream.UseSystemResolvers {
		up = upstream.New(cfg.Upstream)
	}

	res := resolver.New(resolver.Config{
		Cache:    c,
		Upstream: up,
		Handler:  cfg.Handler,
		Logger:   log,
	})

	if cfg.ACL == nil {
		cfg.ACL = ratelimit.NewACL(true)
	}

	return &Service{
		cfg:   cfg,
		log:   log,
		cache: c,
		up:    up,
		res:   res,
		rl:    ratelimit.NewLimiter(cfg.RateLimit),
	}
}

// LoadZoneFile parses the YAML zone definition at path. It only returns
// the Zone; the caller wraps it with statichandler.New and sets the
// result as cfg.Handler before New.
func LoadZoneFile(path string, zcfg zonefile.Config) (*zonefile.Zone, error) {
	return zonefile.ParseFile(path, zcfg)
}

// Start builds and starts every configured transport. If any transport
// fails to start, the ones already running are stopped before Start
// returns the error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps := transport.Deps{
		Resolver:  s.res,
		ACL:       s.cfg.ACL,
		RateLimit: s.rl,
		Logger:    s.log,
	}

	var built []transport.Transport

	if s.cfg.UDP != nil {
		built = append(built, transport.NewUDP(*s.cfg.UDP, deps))
	}
	if s.cfg.DoT != nil {
		t, err := transport.NewDoT(*s.cfg.DoT, deps)
		if err != nil {
			return fmt.Errorf("service: build DoT transport: %w", err)
		}
		built = append(built, t)
	}
	if s.cfg.DoQ != nil {
		t, err := transport.NewDoQ(*s.cfg.DoQ, deps)
		if err != nil {
			return fmt.Errorf("service: build DoQ transport: %w", err)
		}
		built = append(built, t)
	}

	for i, t := range built {
		if err := t.Start(ctx); err != nil {
			s.transports = built[:i]
			s.stopLocked(context.Background())
			return fmt.Errorf("service: start transport: %w", err)
		}
		s.log.Info("transport started", "addr", addrString(t))
	}

	s.transports = built
	return nil
}

// Shutdown stops every running transport and releases the cache and
// upstream client, waiting up to the lifetime of ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) error {
	var firstErr error
	for _, t := range s.transports {
		if err := t.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.transports = nil

	s.cache.Close()
	s.cache.Clear()
	if s.up != nil {
		s.up.Close()
	}
	return firstErr
}

// Stats reports a snapshot of the resolver's cache for diagnostics.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

func addrString(t transport.Transport) string {
	if a := t.Addr(); a != nil {
		return a.String()
	}
	return "unknown"
}
