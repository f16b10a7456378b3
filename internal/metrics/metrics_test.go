package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHostOf(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://LivingWage.mit.edu/counties/01001", "livingwage.mit.edu"},
		{"no scheme", "api.census.gov/data", "api.census.gov"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HostOf(tc.input); got != tc.expected {
				t.Errorf("HostOf(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(httpAttemptsTotal.WithLabelValues("metrics.test", "ok"))
	ObserveHTTPAttempt("https://metrics.test/x", "ok")
	if got := testutil.ToFloat64(httpAttemptsTotal.WithLabelValues("metrics.test", "ok")); got != before+1 {
		t.Fatalf("expected attempt counter to grow by 1, got %f -> %f", before, got)
	}

	beforeRecords := testutil.ToFloat64(recordsTotal.WithLabelValues("wage", "loaded"))
	ObserveRecords("wage", "loaded", 252)
	ObserveRecords("wage", "loaded", 0)
	if got := testutil.ToFloat64(recordsTotal.WithLabelValues("wage", "loaded")); got != beforeRecords+252 {
		t.Fatalf("expected records counter to grow by 252, got %f", got-beforeRecords)
	}

	ObserveRetry("https://metrics.test/x")
	ObserveCacheLookup("hit")
	ObserveCourtesyDelay(10 * time.Millisecond)
	ObserveEntity("success")
	ObserveRun("SUCCESS")
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("SUCCESS")); got < 1 {
		t.Fatalf("expected run counter, got %f", got)
	}
}
