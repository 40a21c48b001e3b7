package gateway

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNoncerStrictlyIncreasing(t *testing.T) {
	var n Noncer
	prev := ""
	for i := 0; i < 5000; i++ {
		nonce := n.Next()
		if len(nonce) < len(prev) || (len(nonce) == len(prev) && nonce <= prev) {
			t.Fatalf("nonce %q not greater than previous %q (call %d)", nonce, prev, i)
		}
		prev = nonce
	}
}

func TestNoncerSameMillisecondPadding(t *testing.T) {
	// Force the same-millisecond path regardless of clock resolution.
	n := &Noncer{last: time.Now().Add(time.Hour).UnixMilli()}
	a := n.Next()
	b := n.Next()
	if len(a) != len(b) {
		t.Fatalf("same-ms nonces must keep a fixed width: %q vs %q", a, b)
	}
	av, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		t.Fatalf("nonce not numeric: %q", a)
	}
	bv, _ := strconv.ParseInt(b, 10, 64)
	if bv != av+1 {
		t.Errorf("intra-ms counter must advance by one: %d then %d", av, bv)
	}
}

func TestSerializerMutualExclusion(t *testing.T) {
	const calls = 64
	var s Serializer
	var inFlight, maxInFlight int32
	nonces := make([]string, 0, calls)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(func(nonce string) error {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxInFlight)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
						break
					}
				}
				time.Sleep(200 * time.Microsecond) // widen any overlap window
				mu.Lock()
				nonces = append(nonces, nonce)
				mu.Unlock()
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("expected at most one in-flight call, observed %d", maxInFlight)
	}
	if len(nonces) != calls {
		t.Fatalf("expected %d nonces, got %d", calls, len(nonces))
	}
	// Nonces were appended in execution order and must be strictly
	// increasing as numbers; equal-width strings compare lexically.
	sorted := sort.SliceIsSorted(nonces, func(i, j int) bool {
		a, b := nonces[i], nonces[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	if !sorted {
		t.Error("nonces not strictly increasing in execution order")
	}
	seen := make(map[string]bool, calls)
	for _, n := range nonces {
		if seen[n] {
			t.Fatalf("duplicate nonce %q", n)
		}
		seen[n] = true
	}
}

func TestSerializerReleasesLockOnError(t *testing.T) {
	var s Serializer
	boom := errors.New("request timed out")
	if err := s.Do(func(string) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.Do(func(string) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock not released after failed call")
	}
}

func TestTokenBucketLimiterRespectsContext(t *testing.T) {
	l := NewTokenBucketLimiter(0.001, 1) // practically never refills
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first token should be free: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
