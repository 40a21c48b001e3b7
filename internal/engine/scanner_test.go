package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"money-printer-go/market"
	"money-printer-go/result"
	"money-printer-go/trade"
)

// fakeExecutor records triggers and can block to simulate a slow trade.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{} // non-nil: Execute waits until closed
	outcome trade.Outcome
}

func (f *fakeExecutor) Execute(ctx context.Context, buy, sell market.Backend) (trade.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, buy.Name()+"->"+sell.Name())
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.outcome, nil
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func twoBackends(marginAB, marginBA float64) (*market.MockBackend, *market.MockBackend) {
	// Prices chosen so a->b has marginAB and b->a has marginBA with no fees.
	a := &market.MockBackend{BackendName: "a", BuyPrice: 100, SellPrice: 100 * (1 + marginBA)}
	b := &market.MockBackend{BackendName: "b", BuyPrice: 100, SellPrice: 100 * (1 + marginAB)}
	return a, b
}

func TestScannerTriggersProfitablePair(t *testing.T) {
	a, b := twoBackends(0.03, -0.01)
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	s.scanOnce(context.Background())
	s.Wait()

	assert.Equal(t, []string{"a->b"}, exec.Calls())
	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Evaluated)
	assert.Equal(t, int64(1), stats.Triggered)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestScannerSkipsIncompatibleBackends(t *testing.T) {
	a, b := twoBackends(0.05, 0.05)
	b.Base = market.Code("USD") // different base currency, no shared pair
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	s.scanOnce(context.Background())
	s.Wait()

	assert.Empty(t, exec.Calls())
	assert.Equal(t, int64(0), s.Stats().Evaluated)
}

func TestScannerFailedMarginSkipsPairOnly(t *testing.T) {
	a, b := twoBackends(0.03, 0.03)
	a.BuyPriceFail = result.Failf[float64]("a", true, nil, "venue down").Failure()
	// a->b needs a's buy price and fails; b->a needs a's sell price and
	// still works.
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	s.scanOnce(context.Background())
	s.Wait()

	assert.Equal(t, []string{"b->a"}, exec.Calls())
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Triggered)
}

func TestScannerDoesNotWaitForExecution(t *testing.T) {
	a, b := twoBackends(0.03, -0.01)
	exec := &fakeExecutor{outcome: trade.Done, block: make(chan struct{})}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.scanOnce(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scan blocked on a running execution")
	}

	// The pair is guarded while the trade runs: another cycle must not
	// stack a second execution on the same direction.
	s.scanOnce(context.Background())
	assert.Len(t, exec.Calls(), 1)

	close(exec.block)
	s.Wait()

	// Guard released: the next cycle may trigger again.
	s.scanOnce(context.Background())
	s.Wait()
	assert.Len(t, exec.Calls(), 2)
}

func TestScannerMarginAtThresholdIsSkipped(t *testing.T) {
	a, b := twoBackends(0.01, -0.01)
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	s.scanOnce(context.Background())
	s.Wait()
	assert.Empty(t, exec.Calls(), "margin equal to threshold must not trigger")
}

func TestScannerLifecycle(t *testing.T) {
	a, b := twoBackends(-0.01, -0.01)
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: 5 * time.Millisecond}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateScanning, s.State())
	assert.Error(t, s.Start(context.Background()), "double start must fail")

	// Let a few cycles run.
	deadline := time.Now().Add(time.Second)
	for s.Stats().Cycles < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, s.Stats().Cycles, int64(2))

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	s.Stop() // idempotent
}

func TestScannerPoke(t *testing.T) {
	a, b := twoBackends(-0.01, -0.01)
	exec := &fakeExecutor{outcome: trade.Done}
	s, err := NewScanner(Config{Threshold: 0.01, Interval: time.Hour}, []market.Backend{a, b}, exec, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// The first cycle fires immediately; wait for it.
	deadline := time.Now().Add(time.Second)
	for s.Stats().Cycles < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	before := s.Stats().Cycles

	s.Poke()
	deadline = time.Now().Add(time.Second)
	for s.Stats().Cycles == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Greater(t, s.Stats().Cycles, before, "poke must wake the loop early")
}

func TestNewScannerValidation(t *testing.T) {
	a, b := twoBackends(0, 0)
	exec := &fakeExecutor{}
	_, err := NewScanner(Config{Threshold: 0}, []market.Backend{a, b}, exec, nil)
	assert.Error(t, err)
	_, err = NewScanner(Config{Threshold: 0.01}, []market.Backend{a}, exec, nil)
	assert.Error(t, err)
	_, err = NewScanner(Config{Threshold: 0.01}, []market.Backend{a, b}, nil, nil)
	assert.Error(t, err)
}
