package metrics

import "github.com/prometheus/client_golang/prometheus"

const metricNamePrefix = "koli_ledger_"

// Claim outcome labels.
const (
	ClaimOutcomeSuccess      = "success"
	ClaimOutcomeNotFound     = "not_found"
	ClaimOutcomeInsufficient = "insufficient_pool"
	ClaimOutcomeExpired      = "expired"
	ClaimOutcomeInvalid      = "invalid"
	ClaimOutcomeFailed       = "failed"
)

// Usage sync result labels.
const (
	UsageSyncApplied = "applied"
	UsageSyncNoop    = "noop"
	UsageSyncFailed  = "failed"
)

// Ledger holds the counters exported by the reward ledger and the usage synchronizer.
// A nil *Ledger is valid and records nothing.
type Ledger struct {
	claims         *prometheus.CounterVec
	claimedAmount  prometheus.Counter
	claimAttempts  prometheus.Histogram
	generated      prometheus.Counter
	rolledOver     prometheus.Counter
	usageSync      *prometheus.CounterVec
	expiredRecords prometheus.Counter
}

// NewLedger builds the ledger counters and registers them on registry.
func NewLedger(registry prometheus.Registerer) *Ledger {
	ledger := &Ledger{
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "claims_total",
				Help: "Reward claim attempts by outcome",
			},
			[]string{"outcome"},
		),
		claimedAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "claimed_amount_total",
				Help: "Sum of successfully claimed reward amounts",
			},
		),
		claimAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricNamePrefix + "claim_transaction_attempts",
				Help:    "Transaction attempts needed per claim",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
		),
		generated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "codes_generated_total",
				Help: "Reward codes generated",
			},
		),
		rolledOver: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "rollover_amount_total",
				Help: "Unspent pool balance carried into newly generated codes",
			},
		),
		usageSync: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "usage_sync_events_total",
				Help: "Member change events processed by the usage synchronizer",
			},
			[]string{"result"},
		),
		expiredRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "history_expired_total",
				Help: "Reward history records marked expired by the sweeper",
			},
		),
	}
	if registry != nil {
		registry.MustRegister(
			ledger.claims,
			ledger.claimedAmount,
			ledger.claimAttempts,
			ledger.generated,
			ledger.rolledOver,
			ledger.usageSync,
			ledger.expiredRecords,
		)
	}
	return ledger
}

func (l *Ledger) ObserveClaim(outcome string, amount float64, attempts int) {
	if l == nil {
		return
	}
	l.claims.WithLabelValues(outcome).Inc()
	if outcome == ClaimOutcomeSuccess {
		l.claimedAmount.Add(amount)
	}
	if attempts > 0 {
		l.claimAttempts.Observe(float64(attempts))
	}
}

func (l *Ledger) ObserveGenerate(carryOver float64) {
	if l == nil {
		return
	}
	l.generated.Inc()
	if carryOver > 0 {
		l.rolledOver.Add(carryOver)
	}
}

func (l *Ledger) ObserveUsageSync(result string) {
	if l == nil {
		return
	}
	l.usageSync.WithLabelValues(result).Inc()
}

func (l *Ledger) ObserveExpired(count int64) {
	if l == nil || count <= 0 {
		return
	}
	l.expiredRecords.Add(float64(count))
}
