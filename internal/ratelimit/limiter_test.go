package ratelimit

import (
	"net"
	"testing"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(Config{QueriesPerSecond: 10, Burst: 5})
	ip := net.ParseIP("198.51.100.1")

	for i := 0; i < 5; i++ {
		if !l.Allow(ip) {
			t.Fatalf("request %d unexpectedly denied within burst", i)
		}
	}
}

func TestLimiterDeniesOverBurst(t *testing.T) {
	l := NewLimiter(Config{QueriesPerSecond: 1, Burst: 2})
	ip := net.ParseIP("198.51.100.2")

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow(ip) {
			allowed++
		}
	}
	if allowed > 2 {
		t.Errorf("allowed %d requests, want at most burst of 2 immediately", allowed)
	}
}

func TestLimiterTracksDistinctClientsSeparately(t *testing.T) {
	l := NewLimiter(Config{QueriesPerSecond: 1, Burst: 1})
	a := net.ParseIP("198.51.100.3")
	b := net.ParseIP("198.51.100.4")

	if !l.Allow(a) {
		t.Fatal("first request from a should be allowed")
	}
	if !l.Allow(b) {
		t.Fatal("first request from distinct client b should be allowed independently")
	}
	if l.Allow(a) {
		t.Fatal("second immediate request from a should be denied")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	if !l.Allow(net.ParseIP("198.51.100.5")) {
		t.Error("nil Limiter should permit everything (rate limiting disabled)")
	}
}
