package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPairOutcome(t *testing.T) {
	PairsEvaluated.Reset()
	CurrentMargin.Reset()

	RecordPairOutcome("a->b", "skipped", 0.004)
	RecordPairOutcome("a->b", "skipped", 0.006)
	RecordPairOutcome("a->b", "triggered", 0.015)
	RecordPairOutcome("a->b", "failed", 0)

	if got := testutil.ToFloat64(PairsEvaluated.WithLabelValues("a->b", "skipped")); got != 2 {
		t.Errorf("skipped count = %f, want 2", got)
	}
	if got := testutil.ToFloat64(PairsEvaluated.WithLabelValues("a->b", "triggered")); got != 1 {
		t.Errorf("triggered count = %f, want 1", got)
	}
	// A failed evaluation must not clobber the last good margin.
	if got := testutil.ToFloat64(CurrentMargin.WithLabelValues("a->b")); got != 0.015 {
		t.Errorf("margin gauge = %f, want 0.015", got)
	}
}

func TestRecordLeg(t *testing.T) {
	LegsExecuted.Reset()
	LegsFailed.Reset()

	RecordLeg("bitcoin.de", "buy", true)
	RecordLeg("kraken.com", "sell", false)

	if got := testutil.ToFloat64(LegsExecuted.WithLabelValues("bitcoin.de", "buy")); got != 1 {
		t.Errorf("executed count = %f, want 1", got)
	}
	if got := testutil.ToFloat64(LegsFailed.WithLabelValues("kraken.com", "sell")); got != 1 {
		t.Errorf("failed count = %f, want 1", got)
	}
}
