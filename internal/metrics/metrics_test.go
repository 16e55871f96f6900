package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQueryIncrementsCounterForRcode(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("udp", "nxdomain"))
	ObserveQuery("udp", 3, time.Now())
	after := testutil.ToFloat64(QueriesTotal.WithLabelValues("udp", "nxdomain"))

	if after != before+1 {
		t.Errorf("counter = %v, want %v", after, before+1)
	}
}

func TestRcodeLabelKnownValues(t *testing.T) {
	cases := map[uint8]string{
		0: "noerror",
		1: "formerr",
		2: "servfail",
		3: "nxdomain",
		4: "notimp",
		5: "refused",
		9: "other",
	}
	for rcode, want := range cases {
		if got := rcodeLabel(rcode); got != want {
			t.Errorf("rcodeLabel(%d) = %q, want %q", rcode, got, want)
		}
	}
}

func TestObserveQueryRecordsDuration(t *testing.T) {
	before := testutil.CollectAndCount(QueryDuration)
	ObserveQuery("dot", 0, time.Now().Add(-10*time.Millisecond))
	after := testutil.CollectAndCount(QueryDuration)

	if after < before {
		t.Errorf("histogram series count decreased: %d -> %d", before, after)
	}
}
