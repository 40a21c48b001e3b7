package gateway

import (
	"fmt"
	"sync"
	"time"
)

// maxNoncesPerMilli bounds how many nonces fit into one millisecond before
// the generator has to wait for the clock to advance.
const maxNoncesPerMilli = 1000

// Noncer generates strictly increasing nonces for venue authentication.
// The nonce is the current millisecond timestamp followed by a zero-padded
// intra-millisecond counter, so rapid sequential calls stay monotonic up to
// maxNoncesPerMilli per millisecond; past that the generator spins until the
// next millisecond.
//
// Not safe for concurrent use on its own; the Serializer's lock covers it.
type Noncer struct {
	last    int64
	counter int
}

// Next returns the next nonce.
func (n *Noncer) Next() string {
	now := time.Now().UnixMilli()
	if now <= n.last {
		// Same millisecond, or clock went backwards: keep counting on
		// the last observed timestamp so the sequence never regresses.
		now = n.last
		n.counter++
	} else {
		n.last = now
		n.counter = 0
	}
	if n.counter >= maxNoncesPerMilli {
		for now <= n.last {
			now = time.Now().UnixMilli()
		}
		n.last = now
		n.counter = 0
	}
	return fmt.Sprintf("%d%03d", now, n.counter)
}

// Serializer guarantees at most one in-flight authenticated request per
// backend instance and hands each request a fresh, strictly increasing
// nonce. Venues reject authenticated requests whose nonce did not strictly
// increase, and concurrent in-flight requests from one process can race into
// out-of-order nonces; serializing the calls removes that failure mode.
type Serializer struct {
	mu     sync.Mutex
	noncer Noncer
}

// Do runs fn while holding the backend's request lock. The lock is released
// on every exit path, including an fn that returns an error or panics
// (network timeout and parse failure surface as errors from fn).
func (s *Serializer) Do(fn func(nonce string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.noncer.Next())
}
