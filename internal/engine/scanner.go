// Package engine drives the scan loop: enumerate backend pairs, compute the
// margin for each direction, and hand profitable pairs to the executor.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"money-printer-go/infrastructure/logger"
	"money-printer-go/margin"
	"money-printer-go/market"
	"money-printer-go/metrics"
	"money-printer-go/trade"
)

// ScannerState is the scanner's lifecycle state.
type ScannerState int

const (
	StateIdle ScannerState = iota
	StateScanning
	StateStopped
)

func (s ScannerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the scanner's runtime knobs.
type Config struct {
	// Threshold is the margin that triggers the executor.
	Threshold float64
	// Interval between scan cycles.
	Interval time.Duration
}

// Executor is the downstream that trades a triggered pair. Satisfied by
// *trade.Executor.
type Executor interface {
	Execute(ctx context.Context, buy, sell market.Backend) (trade.Outcome, error)
}

// Statistics counts what the scanner has done since Start.
type Statistics struct {
	StartTime time.Time
	Cycles    int64
	Evaluated int64
	Skipped   int64
	Triggered int64
	Failed    int64
}

// Scanner polls every ordered pair of compatible backends and triggers the
// executor when the margin clears the threshold. Execution runs detached
// from the scan loop; a per-pair guard prevents stacking trades on the same
// direction.
type Scanner struct {
	backends []market.Backend
	executor Executor
	log      *logger.Logger

	mu    sync.RWMutex
	cfg   Config
	state ScannerState
	stats Statistics

	// inFlight marks directed pairs with a running execution.
	inFlight map[string]bool

	// poke wakes the loop before the interval elapses. Fed by the
	// websocket order feed; losing a poke is fine, the next tick catches
	// up.
	poke chan struct{}

	stopChan chan struct{}
	doneChan chan struct{}

	wg sync.WaitGroup
}

func NewScanner(cfg Config, backends []market.Backend, executor Executor, log *logger.Logger) (*Scanner, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("threshold must be > 0")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if len(backends) < 2 {
		return nil, fmt.Errorf("need at least two backends, have %d", len(backends))
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{
		backends: backends,
		executor: executor,
		log:      log,
		cfg:      cfg,
		state:    StateIdle,
		inFlight: make(map[string]bool),
		poke:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// SetConfig applies new knobs between cycles.
func (s *Scanner) SetConfig(cfg Config) {
	s.mu.Lock()
	if cfg.Threshold > 0 {
		s.cfg.Threshold = cfg.Threshold
	}
	if cfg.Interval > 0 {
		s.cfg.Interval = cfg.Interval
	}
	s.mu.Unlock()
}

func (s *Scanner) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Scanner) State() ScannerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Poke requests an early scan cycle. Never blocks.
func (s *Scanner) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Start runs the scan loop until Stop or ctx cancellation.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("scanner already started (state: %s)", state)
	}
	s.state = StateScanning
	s.stats.StartTime = time.Now()
	s.mu.Unlock()

	s.log.Info("scanner starting",
		zap.Int("backends", len(s.backends)),
		zap.Duration("interval", s.config().Interval),
		zap.Float64("threshold", s.config().Threshold))

	go s.run(ctx)
	return nil
}

// Stop ends the loop and waits for it, but not for detached executions.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	close(s.stopChan)
	<-s.doneChan
}

// Wait blocks until all detached executions have finished. Used on
// shutdown after Stop.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.doneChan)

	// First cycle fires immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-s.poke:
			s.scanOnce(ctx)
		case <-timer.C:
			s.scanOnce(ctx)
		}
		timer.Reset(s.config().Interval)
	}
}

// scanOnce evaluates every tradable ordered pair. A pair failure never
// aborts the cycle.
func (s *Scanner) scanOnce(ctx context.Context) {
	cfg := s.config()

	for _, buy := range s.backends {
		for _, sell := range s.backends {
			if buy == sell || !market.SharePair(buy, sell) {
				continue
			}
			s.evaluate(ctx, cfg, buy, sell)
		}
	}

	s.mu.Lock()
	s.stats.Cycles++
	s.mu.Unlock()
	metrics.ScanCycles.Inc()
}

func (s *Scanner) evaluate(ctx context.Context, cfg Config, buy, sell market.Backend) {
	pair := pairKey(buy, sell)

	s.mu.Lock()
	s.stats.Evaluated++
	busy := s.inFlight[pair]
	s.mu.Unlock()
	if busy {
		// An execution for this direction is still running.
		return
	}

	res := margin.Between(ctx, buy, sell)
	if !res.OK() {
		s.mu.Lock()
		s.stats.Skipped++
		s.stats.Failed++
		s.mu.Unlock()
		metrics.RecordPairOutcome(pair, "failed", 0)
		s.log.LogScan("pair_skipped", map[string]interface{}{
			"pair":   pair,
			"reason": res.Failure().Message,
		})
		return
	}

	m := res.Value()
	if m <= cfg.Threshold {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		metrics.RecordPairOutcome(pair, "skipped", m)
		s.log.LogScan("pair_skipped", map[string]interface{}{
			"pair":   pair,
			"margin": m,
		})
		return
	}

	s.mu.Lock()
	s.stats.Triggered++
	s.inFlight[pair] = true
	s.mu.Unlock()
	metrics.RecordPairOutcome(pair, "triggered", m)
	s.log.LogScan("pair_triggered", map[string]interface{}{
		"pair":   pair,
		"margin": m,
	})

	// Detach: the scan never waits for an execution. Serialization inside
	// each backend keeps the requests orderly.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, pair)
			s.mu.Unlock()
		}()
		outcome, err := s.executor.Execute(ctx, buy, sell)
		if err != nil {
			s.log.LogError(err, map[string]interface{}{
				"pair":    pair,
				"outcome": outcome.String(),
			})
			return
		}
		s.log.LogScan("execution_finished", map[string]interface{}{
			"pair":    pair,
			"outcome": outcome.String(),
		})
	}()
}

func pairKey(buy, sell market.Backend) string {
	return buy.Name() + "->" + sell.Name()
}
