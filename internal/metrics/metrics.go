// Package metrics defines the Prometheus instrumentation exposed by this
// server, in the same style as this project's original gRPC middleware
// counters: package-level collectors registered against the default
// registry at init time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nimbusd_queries_total", Help: "Total DNS queries received, by transport and rcode."},
		[]string{"transport", "rcode"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "nimbusd_query_duration_seconds", Help: "End-to-end query handling latency.", Buckets: prometheus.DefBuckets},
		[]string{"transport"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nimbusd_cache_lookups_total", Help: "Cache lookups, by outcome."},
		[]string{"outcome"}, // hit, miss
	)

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "nimbusd_cache_entries", Help: "Current number of entries held in the answer cache."},
	)

	UpstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nimbusd_upstream_attempts_total", Help: "Upstream query attempts, by outcome."},
		[]string{"outcome"}, // success, failure
	)

	ACLRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nimbusd_acl_rejections_total", Help: "Queries rejected by ACL or rate limiting, by reason."},
		[]string{"reason"}, // acl, rate_limit
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		CacheLookups,
		CacheSize,
		UpstreamAttempts,
		ACLRejections,
	)
}

// ObserveQuery records one completed query's transport, final rcode and
// handling latency.
func ObserveQuery(transport string, rcode uint8, start time.Time) {
	QueriesTotal.WithLabelValues(transport, rcodeLabel(rcode)).Inc()
	QueryDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}

func rcodeLabel(rcode uint8) string {
	switch rcode {
	case 0:
		return "noerror"
	case 1:
		return "formerr"
	case 2:
		return "servfail"
	case 3:
		return "nxdomain"
	case 4:
		return "notimp"
	case 5:
		return "refused"
	default:
		return "other"
	}
}
