// Package metrics provides Prometheus metrics for the arbitrage trader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_scan_cycles_total",
		Help: "Completed scan cycles over all backend pairs",
	})
	PairsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_pairs_evaluated_total",
		Help: "Pair evaluations by outcome (skipped, triggered, failed)",
	}, []string{"pair", "outcome"})
	CurrentMargin = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "printer_margin_ratio",
		Help: "Last observed margin per directed backend pair",
	}, []string{"pair"})
	LegsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_legs_executed_total",
		Help: "Trade legs executed by backend and side",
	}, []string{"backend", "side"})
	LegsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_legs_failed_total",
		Help: "Trade legs that returned a failure",
	}, []string{"backend", "side"})
	TradesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_trades_completed_total",
		Help: "Two-leg trades where both legs succeeded",
	})
	TradesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_trades_aborted_total",
		Help: "Trades abandoned before the first leg committed",
	})
	UnbalancedTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_unbalanced_trades_total",
		Help: "Trades where the risky leg committed but the safe leg failed",
	})
)

// RecordPairOutcome counts one pair evaluation and updates the margin gauge.
func RecordPairOutcome(pair, outcome string, margin float64) {
	PairsEvaluated.WithLabelValues(pair, outcome).Inc()
	if outcome != "failed" {
		CurrentMargin.WithLabelValues(pair).Set(margin)
	}
}

// RecordLeg counts one executed or failed leg.
func RecordLeg(backend, side string, ok bool) {
	if ok {
		LegsExecuted.WithLabelValues(backend, side).Inc()
	} else {
		LegsFailed.WithLabelValues(backend, side).Inc()
	}
}

// StartMetricsServer exposes /metrics on addr.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
