package biz

import (
	"container/list"
	"context"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	emergencyMultiplier = 3.0
	normalJitter        = 0.15
	emergencyJitter     = 0.25
	recoveryFactor      = 0.8
)

// escalationSteps is the multiplier reached after the 1st, 2nd and 3rd+
// consecutive throttling outcome.
var escalationSteps = []float64{1.5, 2.0, 3.0}

// GrantLedger persists grant timestamps so the sliding window survives restarts.
// Implementations must tolerate being unavailable.
type GrantLedger interface {
	Load(ctx context.Context, since time.Time) ([]time.Time, error)
	Append(ctx context.Context, at time.Time) error
	Clear(ctx context.Context) error
}

// AdmissionGate combines a minimum-spacing token bucket with an hourly sliding
// window. It is the only component that decides when a request may leave.
type AdmissionGate struct {
	mu sync.Mutex

	quota         int
	window        time.Duration
	baseDelay     time.Duration
	maxMultiplier float64
	maxQuotaWait  time.Duration

	now     func() time.Time
	rng     *rand.Rand
	ledger  GrantLedger
	metrics *Metrics
	log     *pkglog.LogHelper

	grants      []time.Time // ascending, pruned to the window
	lastGrant   time.Time
	spacing     time.Duration // spacing required after lastGrant, jitter applied
	jitter      float64
	multiplier  float64
	failures    int
	totalGrants int64

	queues  [PriorityHigh + 1]*list.List
	changed chan struct{}
}

// NewAdmissionGate creates a gate and restores the grant window from the ledger.
func NewAdmissionGate(c *conf.Gate, ledger GrantLedger, metrics *Metrics, logger log.Logger) *AdmissionGate {
	g := &AdmissionGate{
		quota:         c.RequestsPerHour,
		window:        c.Window,
		baseDelay:     c.BaseDelay,
		maxMultiplier: c.MaxMultiplier,
		maxQuotaWait:  c.MaxQuotaWait,
		now:           time.Now,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		ledger:        ledger,
		metrics:       metrics,
		log:           pkglog.NewLogHelper(logger),
		multiplier:    1.0,
		changed:       make(chan struct{}),
	}
	if g.window <= 0 {
		g.window = time.Hour
	}
	if g.quota <= 0 {
		g.quota = 1
	}
	if g.maxMultiplier < 1 {
		g.maxMultiplier = 1
	}
	for i := range g.queues {
		g.queues[i] = list.New()
	}
	g.redrawLocked()
	g.restore()

	g.log.Gate("Admission gate initialized",
		"requests_per_hour", g.quota,
		"base_delay", g.baseDelay,
		"window", g.window,
		"restored_grants", len(g.grants),
	)
	return g
}

func (g *AdmissionGate) restore() {
	if g.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	now := g.now()
	grants, err := g.ledger.Load(ctx, now.Add(-g.window))
	if err != nil {
		g.log.Warnw("msg", "Failed to restore grant window, starting empty", "error", err)
		return
	}
	for _, t := range grants {
		if t.After(now) {
			continue
		}
		g.grants = append(g.grants, t)
		if t.After(g.lastGrant) {
			g.lastGrant = t
		}
	}
}

// Permit is one admission. It must be resolved exactly once with Done or Cancel.
type Permit struct {
	GrantedAt time.Time
	Waited    time.Duration

	gate *AdmissionGate
	once sync.Once
}

// Done feeds the exchange outcome back into the gate's backoff state.
func (p *Permit) Done(kind OutcomeKind) {
	p.once.Do(func() { p.gate.Observe(kind) })
}

// Cancel releases a permit whose request never reached the upstream.
func (p *Permit) Cancel() {
	p.once.Do(func() {})
}

// Acquire blocks until one request may be sent. Waiters are served FIFO within
// a priority and higher priorities first. Context expiry fails with GateTimeout;
// a window wait longer than the configured maximum fails with QuotaExceeded.
func (g *AdmissionGate) Acquire(ctx context.Context, p Priority) (*Permit, error) {
	if !p.valid() {
		p = PriorityMedium
	}
	start := g.now()
	if err := ctx.Err(); err != nil {
		return nil, newGateTimeoutError("acquire", 0, err)
	}

	g.mu.Lock()
	elem := g.queues[p].PushBack(p)
	g.metrics.setGateWaiting(g.waitingLocked())
	quotaLogged := false
	for {
		wait := time.Duration(-1)
		if g.headLocked() == elem {
			now := g.now()
			readyAt, quotaWait := g.readyAtLocked(now)
			if quotaWait > 0 && g.maxQuotaWait > 0 && quotaWait > g.maxQuotaWait {
				g.dequeueLocked(p, elem)
				mult := g.multiplier
				g.mu.Unlock()
				g.log.GateWarn("Hourly quota reached, refusing to wait",
					"quota_wait", quotaWait, "max_quota_wait", g.maxQuotaWait)
				return nil, newQuotaExceededError(quotaWait, map[string]string{
					"multiplier": strconv.FormatFloat(mult, 'f', 2, 64),
					"stage":      "window",
				})
			}
			if !readyAt.After(now) {
				g.dequeueLocked(p, elem)
				permit := g.grantLocked(now, start)
				g.mu.Unlock()
				g.appendLedger(ctx, permit.GrantedAt)
				return permit, nil
			}
			wait = readyAt.Sub(now)
			if quotaWait > 0 && wait == quotaWait && !quotaLogged {
				quotaLogged = true
				g.log.GateWarn("Hourly quota reached, waiting for window",
					"quota", g.quota, "wait", quotaWait, "priority", p.String())
			}
		}
		changed := g.changed
		g.mu.Unlock()

		err := sleepUntilChanged(ctx, wait, changed)

		g.mu.Lock()
		if err != nil {
			g.dequeueLocked(p, elem)
			g.mu.Unlock()
			return nil, newGateTimeoutError("acquire", g.now().Sub(start), err)
		}
	}
}

// sleepUntilChanged returns when d elapses (d < 0 never elapses), the gate
// state changes, or ctx ends.
func sleepUntilChanged(ctx context.Context, d time.Duration, changed <-chan struct{}) error {
	var timer <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	case <-timer:
		return nil
	}
}

// Observe applies backoff for one outcome. Only throttling and other 4xx
// raise the multiplier; transport failures leave pacing alone.
func (g *AdmissionGate) Observe(kind OutcomeKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.multiplier
	switch {
	case kind == OutcomeSuccess:
		if g.failures > 0 {
			g.log.Gate("Success after failures, resetting failure counter", "failures", g.failures)
		}
		g.failures = 0
		if g.multiplier > 1 {
			g.multiplier = math.Max(1, g.multiplier*recoveryFactor)
		}
	case kind.IsRateLimit() || kind == OutcomeOther4xx:
		g.failures++
		step := escalationSteps[len(escalationSteps)-1]
		if g.failures <= len(escalationSteps) {
			step = escalationSteps[g.failures-1]
		}
		step = math.Min(step, g.maxMultiplier)
		if step > g.multiplier {
			g.multiplier = step
		}
	default:
		return
	}

	if g.multiplier == old {
		return
	}
	g.redrawLocked()
	g.broadcastLocked()
	g.metrics.setMultiplier(g.multiplier)

	kvs := []interface{}{
		"from", old,
		"to", g.multiplier,
		"consecutive_failures", g.failures,
		"effective_delay", g.effectiveDelayLocked(),
	}
	switch {
	case g.multiplier >= emergencyMultiplier && old < emergencyMultiplier:
		g.log.Errorw(append([]interface{}{"msg", "Emergency pacing engaged", "type", "gate"}, kvs...)...)
	case g.multiplier > old:
		g.log.GateWarn("Delay multiplier escalated", kvs...)
	default:
		g.log.Gate("Delay multiplier recovering", kvs...)
	}
}

// Reset clears the window and backoff, e.g. after the egress address changed.
func (g *AdmissionGate) Reset(ctx context.Context) {
	g.mu.Lock()
	g.grants = nil
	g.lastGrant = time.Time{}
	g.multiplier = 1.0
	g.failures = 0
	g.redrawLocked()
	g.broadcastLocked()
	g.metrics.setMultiplier(1)
	g.mu.Unlock()

	if g.ledger != nil {
		if err := g.ledger.Clear(ctx); err != nil {
			g.log.Warnw("msg", "Failed to clear grant ledger", "error", err)
		}
	}
	g.log.Gate("Admission gate reset")
}

// GateStats is a point-in-time view of the gate.
type GateStats struct {
	RequestsInWindow    int           `json:"requests_in_window"`
	RequestsPerHour     int           `json:"requests_per_hour"`
	BaseDelay           time.Duration `json:"base_delay"`
	UtilizationPct      float64       `json:"utilization_pct"`
	DelayMultiplier     float64       `json:"delay_multiplier"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	EmergencyMode       bool          `json:"emergency_mode"`
	JitterBand          float64       `json:"jitter_band"`
	EffectiveDelay      time.Duration `json:"effective_delay"`
	NextSpacing         time.Duration `json:"next_spacing"`
	Waiting             int           `json:"waiting"`
	TotalGrants         int64         `json:"total_grants"`
}

// Stats returns current gate statistics.
func (g *AdmissionGate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(g.now())
	band := normalJitter
	if g.multiplier >= emergencyMultiplier {
		band = emergencyJitter
	}
	return GateStats{
		RequestsInWindow:    len(g.grants),
		RequestsPerHour:     g.quota,
		BaseDelay:           g.baseDelay,
		UtilizationPct:      float64(len(g.grants)) / float64(g.quota) * 100,
		DelayMultiplier:     g.multiplier,
		ConsecutiveFailures: g.failures,
		EmergencyMode:       g.multiplier >= emergencyMultiplier,
		JitterBand:          band,
		EffectiveDelay:      g.effectiveDelayLocked(),
		NextSpacing:         g.spacing,
		Waiting:             g.waitingLocked(),
		TotalGrants:         g.totalGrants,
	}
}

// EffectiveDelay is base delay times the current multiplier, without jitter.
func (g *AdmissionGate) EffectiveDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveDelayLocked()
}

func (g *AdmissionGate) effectiveDelayLocked() time.Duration {
	return time.Duration(float64(g.baseDelay) * g.multiplier)
}

func (g *AdmissionGate) readyAtLocked(now time.Time) (time.Time, time.Duration) {
	g.pruneLocked(now)

	ready := now
	var quotaWait time.Duration
	if len(g.grants) >= g.quota {
		reopen := g.grants[len(g.grants)-g.quota].Add(g.window)
		if reopen.After(ready) {
			ready = reopen
			quotaWait = reopen.Sub(now)
		}
	}
	if !g.lastGrant.IsZero() {
		if next := g.lastGrant.Add(g.spacing); next.After(ready) {
			ready = next
		}
	}
	return ready, quotaWait
}

func (g *AdmissionGate) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.grants) && !g.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.grants = append(g.grants[:0], g.grants[i:]...)
	}
}

func (g *AdmissionGate) grantLocked(now, start time.Time) *Permit {
	g.grants = append(g.grants, now)
	g.lastGrant = now
	g.totalGrants++
	g.redrawLocked()
	g.broadcastLocked()

	waited := now.Sub(start)
	g.metrics.observeGateWait(waited)
	g.metrics.setWindowUtilization(float64(len(g.grants)) / float64(g.quota))
	g.metrics.setGateWaiting(g.waitingLocked())
	return &Permit{GrantedAt: now, Waited: waited, gate: g}
}

// redrawLocked draws the jitter for the next spacing interval. It runs after
// every grant and whenever the multiplier moves.
func (g *AdmissionGate) redrawLocked() {
	band := normalJitter
	if g.multiplier >= emergencyMultiplier {
		band = emergencyJitter
	}
	g.jitter = 1 - band + g.rng.Float64()*2*band
	g.spacing = time.Duration(float64(g.baseDelay) * g.multiplier * g.jitter)
}

func (g *AdmissionGate) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *AdmissionGate) headLocked() *list.Element {
	for p := PriorityHigh; p >= PriorityLow; p-- {
		if front := g.queues[p].Front(); front != nil {
			return front
		}
	}
	return nil
}

func (g *AdmissionGate) dequeueLocked(p Priority, elem *list.Element) {
	wasHead := g.headLocked() == elem
	g.queues[p].Remove(elem)
	if wasHead {
		g.broadcastLocked()
	}
	g.metrics.setGateWaiting(g.waitingLocked())
}

func (g *AdmissionGate) waitingLocked() int {
	n := 0
	for _, q := range g.queues {
		n += q.Len()
	}
	return n
}

func (g *AdmissionGate) appendLedger(ctx context.Context, at time.Time) {
	if g.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := g.ledger.Append(lctx, at); err != nil {
		g.log.Warnw("msg", "Failed to persist grant, window kept in memory only", "error", err)
	}
}
