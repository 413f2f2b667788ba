package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TradesMalformed.Add(3)
	m.UpstreamFailures.WithLabelValues("trades").Inc()
	m.MarketsByTier.WithLabelValues("hot").Set(7)

	if got := testutil.ToFloat64(m.TradesMalformed); got != 3 {
		t.Errorf("malformed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.UpstreamFailures.WithLabelValues("trades")); got != 1 {
		t.Errorf("upstream failures = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"test_ingest_malformed_trades_total",
		"test_upstream_failures_total",
		"test_priority_markets",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.SnapshotsCreated)
	RecordIngest(10, 2, 1, 4)
	if got := testutil.ToFloat64(DefaultMetrics.SnapshotsCreated) - before; got != 4 {
		t.Errorf("snapshots created delta = %v, want 4", got)
	}

	RecordJobRun("test-job", "ok", 0.5, 1_700_000_000)
	if got := testutil.ToFloat64(DefaultMetrics.LastSuccessfulJob.WithLabelValues("test-job")); got != 1_700_000_000 {
		t.Errorf("last success = %v", got)
	}
}
