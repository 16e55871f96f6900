package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusdns/nimbusd/internal/cache"
	"github.com/nimbusdns/nimbusd/internal/ratelimit"
	"github.com/nimbusdns/nimbusd/internal/service"
	"github.com/nimbusdns/nimbusd/internal/statichandler"
	"github.com/nimbusdns/nimbusd/internal/transport"
	"github.com/nimbusdns/nimbusd/internal/upstream"
	"github.com/nimbusdns/nimbusd/internal/zonefile"
)

var (
	udpAddr         = flag.String("udp", ":53", "UDP listen address")
	dotAddr         = flag.String("dot", "", "DNS-over-TLS listen address (empty disables DoT)")
	doqAddr         = flag.String("doq", "", "DNS-over-QUIC listen address (empty disables DoQ)")
	udpWorkers      = flag.Int("udp-listeners", 1, "Number of UDP sockets (SO_REUSEPORT when > 1)")
	tlsCert         = flag.String("tls-cert", "", "TLS certificate file, required by -dot/-doq")
	tlsKey          = flag.String("tls-key", "", "TLS private key file, required by -dot/-doq")
	zoneFile        = flag.String("zone", "", "YAML zone file to serve authoritatively (optional)")
	upstreams       = flag.String("upstream", "", "Comma-separated upstream nameservers (host:port) for recursive failover")
	systemResolvers = flag.Bool("system-resolvers", false, "When -upstream is empty, load nameservers from /etc/resolv.conf (falling back to 8.8.8.8 and 1.1.1.1)")
	metricsAddr     = flag.String("metrics", ":9153", "Prometheus metrics listen address")
	cacheSize       = flag.Int("cache-size", 100000, "Maximum cached answer entries")
	printStats      = flag.Bool("stats", true, "Print cache statistics periodically")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║                  nimbusd - DNS resolver core                 ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	log := slog.Default()

	cfg := service.Config{
		Cache: cache.Config{MaxEntries: *cacheSize},
		ACL:   ratelimit.NewACL(true),
		RateLimit: ratelimit.DefaultConfig(),
		Logger:    log,
	}

	cfg.Upstream = upstream.Config{
		Servers:            splitCSV(*upstreams),
		UseSystemResolvers: *systemResolvers,
	}

	if *zoneFile != "" {
		zone, err := service.LoadZoneFile(*zoneFile, zonefile.DefaultConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading zone %s: %v\n", *zoneFile, err)
			os.Exit(1)
		}
		fmt.Printf("Loaded zone %s\n", zone.Origin)
		cfg.Handler = statichandler.New(zone)
	}

	cfg.UDP = &transport.UDPConfig{Addr: *udpAddr, Workers: *udpWorkers}

	if *dotAddr != "" {
		requireCert()
		cfg.DoT = &transport.DoTConfig{Addr: *dotAddr, CertFile: *tlsCert, KeyFile: *tlsKey}
	}
	if *doqAddr != "" {
		requireCert()
		cfg.DoQ = &transport.DoQConfig{Addr: *doqAddr, CertFile: *tlsCert, KeyFile: *tlsKey}
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  UDP Address:      %s (%d socket(s))\n", *udpAddr, *udpWorkers)
	if cfg.DoT != nil {
		fmt.Printf("  DoT Address:      %s\n", *dotAddr)
	}
	if cfg.DoQ != nil {
		fmt.Printf("  DoQ Address:      %s\n", *doqAddr)
	}
	fmt.Printf("  CPU Cores:        %d\n", runtime.NumCPU())
	fmt.Printf("  Recursive:        %v\n", len(cfg.Upstream.Servers) > 0 || cfg.Upstream.UseSystemResolvers)
	fmt.Printf("  Authoritative:    %v\n", cfg.Handler != nil)
	fmt.Println()

	svc := service.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveMetrics(*metricsAddr, log)

	if err := svc.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error starting service: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("nimbusd started successfully!")
	fmt.Println()

	if *printStats {
		go printCacheStats(svc)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping service: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("nimbusd stopped")
}

func requireCert() {
	if *tlsCert == "" || *tlsKey == "" {
		fmt.Fprintln(os.Stderr, "error: -tls-cert and -tls-key are required for -dot/-doq")
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server error", "error", err)
	}
}

func printCacheStats(svc *service.Service) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := svc.Stats()
		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("Cache statistics:\n")
		fmt.Printf("  Size:       %10d\n", stats.Size)
		fmt.Printf("  Hits:       %10d\n", stats.Hits)
		fmt.Printf("  Misses:     %10d\n", stats.Misses)
		fmt.Printf("  Evictions:  %10d\n", stats.Evictions)
		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")
	}
}
