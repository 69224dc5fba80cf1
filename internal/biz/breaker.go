package biz

import (
	"sync"
	"time"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests pass
	BreakerOpen                         // requests rejected until cool-down elapses
	BreakerHalfOpen                     // one trial in flight decides the next state
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker trips after a run of consecutive failed exchanges. Its tally
// is independent of the degradation controller even though both observe the
// same outcomes.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold    int
	baseCoolDown time.Duration
	maxCoolDown  time.Duration
	now          func() time.Time
	metrics      *Metrics
	log          *pkglog.LogHelper

	state         BreakerState
	failures      int
	coolDown      time.Duration
	openedAt      time.Time
	trialInFlight bool
	trialEpoch    uint64 // bumped each time the breaker enters half-open
	trips         int64
}

// BreakerTicket is handed out by Check and travels with one attempt. Only the
// ticket holding the half-open trial slot decides the half-open verdict.
type BreakerTicket struct {
	trial bool
	epoch uint64
}

// Trial reports whether the ticket holds the half-open trial slot.
func (t BreakerTicket) Trial() bool {
	return t.trial
}

func (cb *CircuitBreaker) ownsTrialLocked(t BreakerTicket) bool {
	return cb.state == BreakerHalfOpen && cb.trialInFlight && t.trial && t.epoch == cb.trialEpoch
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(c *conf.Breaker, metrics *Metrics, logger log.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:    c.FailureThreshold,
		baseCoolDown: c.CoolDown,
		maxCoolDown:  c.MaxCoolDown,
		now:          time.Now,
		metrics:      metrics,
		log:          pkglog.NewLogHelper(logger),
	}
	if cb.threshold <= 0 {
		cb.threshold = 10
	}
	if cb.baseCoolDown <= 0 {
		cb.baseCoolDown = 5 * time.Minute
	}
	if cb.maxCoolDown < cb.baseCoolDown {
		cb.maxCoolDown = cb.baseCoolDown
	}
	cb.coolDown = cb.baseCoolDown
	return cb
}

// Check must be called before every acquisition. In half-open it admits a
// single trial; everything else fails with CircuitOpen until the trial resolves.
func (cb *CircuitBreaker) Check() (BreakerTicket, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpenLocked()
	switch cb.state {
	case BreakerClosed:
		return BreakerTicket{}, nil
	case BreakerHalfOpen:
		if cb.trialInFlight {
			return BreakerTicket{}, newCircuitOpenError(0, cb.failures)
		}
		cb.trialInFlight = true
		cb.log.Breaker("Admitting half-open trial", "cool_down", cb.coolDown)
		return BreakerTicket{trial: true, epoch: cb.trialEpoch}, nil
	default:
		return BreakerTicket{}, newCircuitOpenError(cb.remainingLocked(), cb.failures)
	}
}

// Confirm re-validates a ticket once its permit has been granted. A request
// that queued at the gate while the breaker tripped is refused here, and a
// closed-state ticket that finds the breaker half-open must claim the trial
// slot or fail. On error the ticket holds nothing to release.
func (cb *CircuitBreaker) Confirm(t *BreakerTicket) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpenLocked()
	switch cb.state {
	case BreakerClosed:
		t.trial = false
		return nil
	case BreakerHalfOpen:
		if cb.ownsTrialLocked(*t) {
			return nil
		}
		if cb.trialInFlight {
			t.trial = false
			return newCircuitOpenError(0, cb.failures)
		}
		cb.trialInFlight = true
		t.trial, t.epoch = true, cb.trialEpoch
		cb.log.Breaker("Admitting half-open trial", "cool_down", cb.coolDown)
		return nil
	default:
		t.trial = false
		return newCircuitOpenError(cb.remainingLocked(), cb.failures)
	}
}

// Record feeds the outcome of the attempt that carried t. RateLimited,
// TransportFailure and Other4xx count as failures; QuotaExhausted is neutral
// while closed. In half-open only the trial holder's outcome counts.
func (cb *CircuitBreaker) Record(t BreakerTicket, kind OutcomeKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	success := kind == OutcomeSuccess
	switch cb.state {
	case BreakerClosed:
		if kind == OutcomeQuotaExhausted {
			return
		}
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.openLocked(kind)
		}
	case BreakerHalfOpen:
		if !cb.ownsTrialLocked(t) {
			// late outcome from an attempt admitted before the trip
			return
		}
		cb.trialInFlight = false
		if success {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.coolDown = cb.baseCoolDown
			cb.metrics.setBreakerState(BreakerClosed)
			cb.log.Recovery("Circuit closed after successful trial")
			return
		}
		cb.failures++
		cb.coolDown *= 2
		if cb.coolDown > cb.maxCoolDown {
			cb.coolDown = cb.maxCoolDown
		}
		cb.openLocked(kind)
	case BreakerOpen:
		if !success && kind != OutcomeQuotaExhausted {
			cb.failures++
		}
	}
}

// Abandon releases the trial slot held by t when its attempt never produced
// an outcome.
func (cb *CircuitBreaker) Abandon(t BreakerTicket) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.ownsTrialLocked(t) {
		cb.trialInFlight = false
	}
}

// State reports the current state, moving Open to HalfOpen once the cool-down
// has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.trialInFlight = false
	cb.coolDown = cb.baseCoolDown
	cb.metrics.setBreakerState(BreakerClosed)
	cb.log.Breaker("Circuit breaker reset")
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Threshold           int           `json:"threshold"`
	CoolDown            time.Duration `json:"cool_down"`
	RetryAfter          time.Duration `json:"retry_after"`
	Trips               int64         `json:"trips"`
}

// Stats returns current breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()

	s := BreakerStats{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		Threshold:           cb.threshold,
		CoolDown:            cb.coolDown,
		Trips:               cb.trips,
	}
	if cb.state == BreakerOpen {
		s.RetryAfter = cb.remainingLocked()
	}
	return s
}

func (cb *CircuitBreaker) openLocked(cause OutcomeKind) {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.trips++
	cb.metrics.setBreakerState(BreakerOpen)
	cb.log.Breaker("Circuit opened, halting upstream traffic",
		"consecutive_failures", cb.failures,
		"threshold", cb.threshold,
		"cause", cause.String(),
		"cool_down", cb.coolDown,
	)
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == BreakerOpen && !cb.now().Before(cb.openedAt.Add(cb.coolDown)) {
		cb.state = BreakerHalfOpen
		cb.trialInFlight = false
		cb.trialEpoch++
		cb.metrics.setBreakerState(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) remainingLocked() time.Duration {
	d := cb.openedAt.Add(cb.coolDown).Sub(cb.now())
	if d < 0 {
		return 0
	}
	return d
}
