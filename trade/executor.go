// Package trade executes a two-leg arbitrage trade across two market
// backends: buy where the effective price is low, sell where it is high.
// The leg carrying the higher risk score always commits first, so a failure
// on the harder venue leaves nothing to unwind.
package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"money-printer-go/infrastructure/alert"
	"money-printer-go/infrastructure/logger"
	"money-printer-go/margin"
	"money-printer-go/market"
	"money-printer-go/metrics"
	"money-printer-go/operator"
)

// Outcome is the terminal state of one execution run.
type Outcome int

const (
	// Done means both legs succeeded.
	Done Outcome = iota
	// Aborted means the run stopped before committing any funds. Stale
	// margin, too small a fill window, a declined confirmation or the hodl
	// guard all land here. Not an error.
	Aborted
	// FailedBeforeCommit means the risky leg failed. No position changed.
	FailedBeforeCommit
	// FailedAfterCommit means the risky leg committed but the safe leg did
	// not. The account holds an unbalanced position that needs a human.
	FailedAfterCommit
)

// closingLegTimeout bounds the safe leg once the risky leg has committed.
// Generous next to normal venue latency, tight enough that a wedged request
// escalates while the book is still close to the revalidated prices.
const closingLegTimeout = 20 * time.Second

func (o Outcome) String() string {
	switch o {
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	case FailedBeforeCommit:
		return "FAILED_BEFORE_COMMIT"
	case FailedAfterCommit:
		return "FAILED_AFTER_COMMIT"
	default:
		return "UNKNOWN"
	}
}

// UnbalancedError reports a position left open after the risky leg
// committed. It is never retried automatically; the operator has to resolve
// it by hand.
type UnbalancedError struct {
	RunID   string
	Backend string
	Side    market.Side
	Amount  float64
	Err     error
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("run %s: position unbalanced, %s of %.8f on %s not executed: %v",
		e.RunID, e.Side, e.Amount, e.Backend, e.Err)
}

func (e *UnbalancedError) Unwrap() error { return e.Err }

// Config holds the knobs an executor run consults. Updated between scans by
// the config watcher.
type Config struct {
	// Threshold is the margin a revalidated opportunity must still exceed;
	// at or below it the run is abandoned.
	Threshold float64
	// MaxStake caps the base currency committed to one trade.
	MaxStake float64
	// HodlTarget and MaxStray implement the holdings guard: a trade whose
	// transient low point would leave total trading currency below
	// MaxStray[0]*HodlTarget is skipped. 0 disables the guard.
	HodlTarget float64
	MaxStray   [2]float64
	// ConfirmRisky asks the operator before the first leg commits.
	ConfirmRisky bool
	// ConfirmSafe asks again before the second leg. A "no" at that point
	// still leaves the position unbalanced and is escalated, not ignored.
	ConfirmSafe bool
}

// Executor runs one two-leg trade at a time per call. It holds no position
// state of its own; everything observable lives on the venues.
type Executor struct {
	mu     sync.RWMutex
	cfg    Config
	op     operator.Interactor
	alerts *alert.Manager
	log    *logger.Logger
}

func NewExecutor(cfg Config, op operator.Interactor, alerts *alert.Manager, log *logger.Logger) *Executor {
	if op == nil {
		op = operator.AutoApprover{Approve: true}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{cfg: cfg, op: op, alerts: alerts, log: log}
}

// SetConfig swaps the runtime knobs. Safe against concurrent Execute calls;
// a running trade finishes under the config it started with.
func (e *Executor) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Execute buys on buy and sells on sell. The outcome reports how far the run
// got; err is non-nil for the two failure outcomes and nil otherwise.
func (e *Executor) Execute(ctx context.Context, buy, sell market.Backend) (Outcome, error) {
	cfg := e.config()
	runID := uuid.NewString()
	log := e.log.WithFields(map[string]interface{}{
		"run_id": runID,
		"buy":    buy.Name(),
		"sell":   sell.Name(),
	})

	// Risk ordering. The buy leg wins ties so the direction is
	// deterministic regardless of argument order.
	riskyIsBuy := buy.Risk() >= sell.Risk()

	p, outcome, err := e.revalidate(ctx, cfg, buy, sell, log)
	if outcome != Done {
		return outcome, err
	}

	if cfg.ConfirmRisky {
		question := fmt.Sprintf("buy %.8f %s at %.2f on %s, sell at %.2f on %s (margin %.4f)?",
			p.amount, buy.TradingCurrency(), p.buyOffer.Price, buy.Name(), p.sellOffer.Price, sell.Name(), p.margin)
		yes, err := e.op.Decide(ctx, question)
		if err != nil {
			log.LogTrade("aborted", map[string]interface{}{"reason": "confirmation failed", "error": err.Error()})
			metrics.TradesAborted.Inc()
			return Aborted, nil
		}
		if !yes {
			log.LogTrade("aborted", map[string]interface{}{"reason": "operator declined"})
			metrics.TradesAborted.Inc()
			return Aborted, nil
		}
	}

	// Risky leg. A failure here left the offer untouched on the venue,
	// nothing to unwind.
	riskyBackend, riskyOffer := buy, p.buyOffer
	if !riskyIsBuy {
		riskyBackend, riskyOffer = sell, p.sellOffer
	}
	if res := riskyBackend.ExecutePendingOffer(ctx, riskyOffer, p.amount); !res.OK() {
		failure := res.Failure()
		metrics.RecordLeg(riskyBackend.Name(), string(riskyOffer.Side), false)
		log.LogTrade("failed_before_commit", map[string]interface{}{
			"backend": riskyBackend.Name(),
			"error":   failure.Message,
		})
		return FailedBeforeCommit, failure
	}
	metrics.RecordLeg(riskyBackend.Name(), string(riskyOffer.Side), true)
	log.LogLeg("risky_leg_done", map[string]interface{}{
		"backend": riskyBackend.Name(),
		"side":    string(riskyOffer.Side),
		"amount":  p.amount,
	})

	// From here on the position is open. Every exit either closes it or
	// escalates. The caller's ctx belongs to the scan loop and dies on
	// shutdown; the closing leg must still be attempted, so it runs on a
	// detached context with its own deadline.
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), closingLegTimeout)
	defer cancelClose()

	safeBackend, safeSide, safeMin := sell, market.Sell, p.sellOffer.MinAmount
	if !riskyIsBuy {
		safeBackend, safeSide, safeMin = buy, market.Buy, p.buyOffer.MinAmount
	}

	if cfg.ConfirmSafe {
		yes, err := e.op.Decide(closeCtx, fmt.Sprintf("%s %.8f %s on %s now?",
			safeSide, p.amount, safeBackend.TradingCurrency(), safeBackend.Name()))
		if err != nil || !yes {
			declineErr := err
			if declineErr == nil {
				declineErr = fmt.Errorf("operator declined the closing leg")
			}
			return FailedAfterCommit, e.escalate(runID, safeBackend, safeSide, p.amount, declineErr, log)
		}
	}

	if res := safeBackend.SetMarketOrder(closeCtx, safeSide, p.amount, safeMin); !res.OK() {
		metrics.RecordLeg(safeBackend.Name(), string(safeSide), false)
		return FailedAfterCommit, e.escalate(runID, safeBackend, safeSide, p.amount, res.Failure(), log)
	}
	metrics.RecordLeg(safeBackend.Name(), string(safeSide), true)
	metrics.TradesCompleted.Inc()

	profit := (p.effSell - p.effBuy) * p.amount
	log.LogTrade("done", map[string]interface{}{
		"amount":     p.amount,
		"margin":     p.margin,
		"est_profit": profit,
	})
	_ = e.op.Send(closeCtx, fmt.Sprintf("trade %s done: %.8f %s %s->%s, margin %.4f, est. profit %.2f %s",
		runID, p.amount, buy.TradingCurrency(), buy.Name(), sell.Name(), p.margin, profit, buy.BaseCurrency()))
	return Done, nil
}

// plan is the sized and revalidated opportunity.
type plan struct {
	buyOffer  market.Offer
	sellOffer market.Offer
	effBuy    float64
	effSell   float64
	margin    float64
	amount    float64
}

// revalidate fetches fresh offers and balances and sizes the trade. Returns
// Done with a plan when the run should proceed; any other outcome ends the
// run without side effects.
func (e *Executor) revalidate(ctx context.Context, cfg Config, buy, sell market.Backend, log *logger.Logger) (plan, Outcome, error) {
	var p plan

	baseRes := buy.AvailableBaseCurrency(ctx)
	if !baseRes.OK() {
		log.LogTrade("aborted", map[string]interface{}{"reason": "base balance unavailable", "error": baseRes.Failure().Message})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}
	maxSpend := baseRes.Value().Value
	if cfg.MaxStake > 0 && cfg.MaxStake < maxSpend {
		maxSpend = cfg.MaxStake
	}

	buyRes := buy.CheapestOfferToBuy(ctx, maxSpend)
	if !buyRes.OK() {
		log.LogTrade("aborted", map[string]interface{}{"reason": "no buy offer", "error": buyRes.Failure().Message})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}
	sellBTCRes := sell.AvailableTradingCurrency(ctx)
	if !sellBTCRes.OK() {
		log.LogTrade("aborted", map[string]interface{}{"reason": "trading balance unavailable", "error": sellBTCRes.Failure().Message})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}
	sellBTC := sellBTCRes.Value().Value

	sellRes := sell.HighestOfferToSell(ctx, sellBTC)
	if !sellRes.OK() {
		log.LogTrade("aborted", map[string]interface{}{"reason": "no sell offer", "error": sellRes.Failure().Message})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}
	p.buyOffer, p.sellOffer = buyRes.Value(), sellRes.Value()

	// The scan's margin came from top-of-book prices; the book may have
	// moved since. An evaporated opportunity is normal control flow.
	marginRes := margin.FromOffers(buy, p.buyOffer, sell, p.sellOffer)
	if !marginRes.OK() {
		log.LogTrade("aborted", map[string]interface{}{"reason": "margin unavailable", "error": marginRes.Failure().Message})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}
	p.margin = marginRes.Value()
	p.effBuy = buy.EffectiveBuyPrice(p.buyOffer.Price)
	p.effSell = sell.EffectiveSellPrice(p.sellOffer.Price)
	if p.margin <= cfg.Threshold {
		log.Debug("margin stale, abandoning opportunity")
		log.LogTrade("aborted", map[string]interface{}{"reason": "margin stale", "margin": p.margin})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}

	p.amount = maxSpend / p.effBuy
	if p.buyOffer.MaxAmount < p.amount {
		p.amount = p.buyOffer.MaxAmount
	}
	if p.sellOffer.MaxAmount < p.amount {
		p.amount = p.sellOffer.MaxAmount
	}
	if sellBTC < p.amount {
		p.amount = sellBTC
	}
	minFill := p.buyOffer.MinAmount
	if p.sellOffer.MinAmount > minFill {
		minFill = p.sellOffer.MinAmount
	}
	if p.amount < minFill {
		log.LogTrade("aborted", map[string]interface{}{
			"reason": "fill window too small", "amount": p.amount, "min": minFill,
		})
		metrics.TradesAborted.Inc()
		return p, Aborted, nil
	}

	if cfg.HodlTarget > 0 {
		buyBTCRes := buy.AvailableTradingCurrency(ctx)
		if !buyBTCRes.OK() {
			log.LogTrade("aborted", map[string]interface{}{"reason": "holdings unavailable", "error": buyBTCRes.Failure().Message})
			metrics.TradesAborted.Inc()
			return p, Aborted, nil
		}
		holdings := buyBTCRes.Value().Value + sellBTC
		// Between the legs one venue has sold before the other bought.
		transientLow := holdings - p.amount
		if transientLow < cfg.MaxStray[0]*cfg.HodlTarget {
			log.LogTrade("aborted", map[string]interface{}{
				"reason": "hodl guard", "holdings": holdings, "amount": p.amount,
			})
			metrics.TradesAborted.Inc()
			return p, Aborted, nil
		}
	}

	return p, Done, nil
}

func (e *Executor) escalate(runID string, backend market.Backend, side market.Side, amount float64, cause error, log *logger.Logger) error {
	err := &UnbalancedError{
		RunID:   runID,
		Backend: backend.Name(),
		Side:    side,
		Amount:  amount,
		Err:     cause,
	}
	metrics.UnbalancedTrades.Inc()
	log.LogError(err, map[string]interface{}{"event": "failed_after_commit"})
	if e.alerts != nil {
		_ = e.alerts.SendCritical("position unbalanced", map[string]interface{}{
			"run_id":  runID,
			"backend": backend.Name(),
			"side":    string(side),
			"amount":  amount,
			"cause":   cause.Error(),
		})
	}
	return err
}
