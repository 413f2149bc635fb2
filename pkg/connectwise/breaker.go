package connectwise

import (
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnavailable is returned without contacting ConnectWise while the
// breaker is open.
var ErrUnavailable = eris.New("connectwise: unavailable, circuit open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops calling ConnectWise after threshold consecutive outage
// responses (transport errors or 5xx) and lets a single probe through once
// reset has elapsed. 4xx answers, 429 included, never count as outages.
type Breaker struct {
	threshold int
	reset     time.Duration
	now       func() time.Time
	onChange  func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. Non-positive arguments take the
// defaults of 5 failures and 30 seconds.
func NewBreaker(threshold int, reset time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{threshold: threshold, reset: reset, now: time.Now}
}

// State reports the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.reset {
		return BreakerHalfOpen
	}
	return b.state
}

// allow reports whether a request may be sent. In half-open only one probe
// is in flight at a time.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.reset {
			return ErrUnavailable
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrUnavailable
		}
		b.probing = true
	}
	return nil
}

// record feeds the outcome of an allowed request back into the breaker.
func (b *Breaker) record(status int, err error) {
	outage := err != nil || status >= http.StatusInternalServerError

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if !outage {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case BreakerHalfOpen:
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
	}
}

// release ends an allowed request without judging the upstream.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
