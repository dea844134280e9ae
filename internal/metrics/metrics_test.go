package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLedgerCountsClaimOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	ledger := NewLedger(registry)

	ledger.ObserveClaim(ClaimOutcomeSuccess, 60, 1)
	ledger.ObserveClaim(ClaimOutcomeSuccess, 40, 2)
	ledger.ObserveClaim(ClaimOutcomeInsufficient, 150, 1)

	if got := testutil.ToFloat64(ledger.claims.WithLabelValues(ClaimOutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful claims, got %v", got)
	}
	if got := testutil.ToFloat64(ledger.claims.WithLabelValues(ClaimOutcomeInsufficient)); got != 1 {
		t.Fatalf("expected 1 rejected claim, got %v", got)
	}
	if got := testutil.ToFloat64(ledger.claimedAmount); got != 100 {
		t.Fatalf("expected claimed amount 100, got %v", got)
	}
}

func TestLedgerCountsUsageAndSweeps(t *testing.T) {
	ledger := NewLedger(prometheus.NewRegistry())

	ledger.ObserveUsageSync(UsageSyncApplied)
	ledger.ObserveUsageSync(UsageSyncNoop)
	ledger.ObserveUsageSync(UsageSyncNoop)
	ledger.ObserveExpired(3)
	ledger.ObserveExpired(0)
	ledger.ObserveGenerate(25)

	if got := testutil.ToFloat64(ledger.usageSync.WithLabelValues(UsageSyncNoop)); got != 2 {
		t.Fatalf("expected 2 noop events, got %v", got)
	}
	if got := testutil.ToFloat64(ledger.expiredRecords); got != 3 {
		t.Fatalf("expected 3 expired records, got %v", got)
	}
	if got := testutil.ToFloat64(ledger.rolledOver); got != 25 {
		t.Fatalf("expected rollover 25, got %v", got)
	}
}

func TestNilLedgerIsSafe(t *testing.T) {
	var ledger *Ledger
	ledger.ObserveClaim(ClaimOutcomeSuccess, 1, 1)
	ledger.ObserveGenerate(1)
	ledger.ObserveUsageSync(UsageSyncApplied)
	ledger.ObserveExpired(1)
}
