package biz

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultMaxRetries   = 3
	defaultQuotaAfter   = time.Hour
	slowAcquireWarnTime = time.Minute
)

// Executor runs one logical request through degradation, breaker, gate,
// identity and transport, retrying transient failures.
type Executor struct {
	gate        *AdmissionGate
	breaker     *CircuitBreaker
	degradation *DegradationController
	identity    *IdentityManager
	transport   Transport
	analyzer    *QuotaAnalyzer
	tuner       *ConfigTuner
	metrics     *Metrics
	log         *pkglog.LogHelper

	maxRetries int
	quotaAfter time.Duration
	now        func() time.Time

	// feedMu makes the per-outcome updates of gate, breaker and degradation
	// one atomic step relative to other outcomes.
	feedMu sync.Mutex
	recent requestWindow
}

// NewExecutor wires the pipeline components together.
func NewExecutor(
	c *conf.Executor,
	gate *AdmissionGate,
	breaker *CircuitBreaker,
	degradation *DegradationController,
	identity *IdentityManager,
	transport Transport,
	analyzer *QuotaAnalyzer,
	metrics *Metrics,
	logger log.Logger,
) *Executor {
	e := &Executor{
		gate:        gate,
		breaker:     breaker,
		degradation: degradation,
		identity:    identity,
		transport:   transport,
		analyzer:    analyzer,
		tuner:       NewConfigTuner(logger),
		metrics:     metrics,
		log:         pkglog.NewLogHelper(logger),
		maxRetries:  defaultMaxRetries,
		quotaAfter:  defaultQuotaAfter,
		now:         time.Now,
	}
	if c != nil {
		if c.MaxRetries >= 0 {
			e.maxRetries = c.MaxRetries
		}
		if c.QuotaExhaustedAfter > 0 {
			e.quotaAfter = c.QuotaExhaustedAfter
		}
	}
	if e.analyzer == nil {
		e.analyzer = NewQuotaAnalyzer()
	}
	return e
}

// Execute performs spec. A request shed by degradation policy returns a
// Response with Skip set and a nil error.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	target, err := spec.URL()
	if err != nil {
		return nil, newInvalidRequestError("invalid endpoint %q: %v", spec.Endpoint, err)
	}
	u, _ := url.Parse(target)

	p := spec.Priority
	if !p.valid() {
		p = PriorityMedium
	}
	maxRetries := e.maxRetries
	switch {
	case spec.MaxRetries > 0:
		maxRetries = spec.MaxRetries
	case spec.MaxRetries < 0:
		maxRetries = 0
	}
	// Keep the caller's request id, scope endpoint and priority to this call.
	requestID := pkglog.GetRequestID(ctx)
	if requestID == "unknown" {
		requestID = pkglog.GenerateRequestID()
	}
	ctx = pkglog.WithRequestContext(ctx, requestID, u.Path, p.String())
	start := e.now()

	var last Outcome
	attempt := 0
	for {
		attempt++

		if ok, level := e.degradation.Admit(p); !ok {
			e.metrics.recordSkip(p, level)
			e.metrics.recordResult(p, "skipped")
			e.log.Degradation("Request skipped by degradation policy",
				"request_id", pkglog.GetRequestID(ctx),
				"priority", p.String(),
				"level", level.String(),
				"endpoint", u.Path,
			)
			return &Response{
				Attempts: attempt - 1,
				Duration: e.now().Sub(start),
				Skip:     &Skip{Priority: p, Level: level},
			}, nil
		}

		ticket, err := e.breaker.Check()
		if err != nil {
			return nil, e.fail(p, err)
		}

		permit, err := e.gate.Acquire(ctx, p)
		if err != nil {
			e.breaker.Abandon(ticket)
			return nil, e.fail(p, err)
		}
		if permit.Waited >= slowAcquireWarnTime {
			e.log.SlowAcquire(ctx, permit.Waited.Milliseconds(), slowAcquireWarnTime.Milliseconds(), "priority", p.String())
		}
		// The breaker may have tripped while this request queued at the gate.
		if err := e.breaker.Confirm(&ticket); err != nil {
			permit.Cancel()
			return nil, e.fail(p, err)
		}

		ex, gen, err := e.identity.Prepare(ctx, target)
		if err != nil {
			permit.Cancel()
			e.breaker.Abandon(ticket)
			if ctx.Err() != nil {
				return nil, e.fail(p, newGateTimeoutError("warmup", e.now().Sub(start), err))
			}
			return nil, e.fail(p, newTransportFailureError(attempt, fmt.Errorf("session warmup: %w", err)))
		}

		raw := e.transport.Perform(ctx, ex)
		if raw.Err != nil && ctx.Err() != nil {
			// Cut off by the caller's own deadline: says nothing about upstream.
			permit.Cancel()
			e.breaker.Abandon(ticket)
			return nil, e.fail(p, newGateTimeoutError("exchange", e.now().Sub(start), ctx.Err()))
		}
		e.identity.Observe(ctx, gen, u, raw.SetCookies)

		o := classify(raw, e.quotaAfter, e.now())
		e.feed(permit, ticket, o, raw.Duration)
		last = o

		kvs := []interface{}{"status", o.StatusCode, "duration", raw.Duration, "profile", ex.ProfileID}
		if o.RetryAfter > 0 {
			kvs = append(kvs, "retry_after", o.RetryAfter)
		}
		if o.Err != nil {
			kvs = append(kvs, "error", o.Err)
		}
		e.log.Attempt(ctx, attempt, o.Kind.String(), kvs...)

		switch o.Kind {
		case OutcomeSuccess:
			e.metrics.recordResult(p, "success")
			e.log.Success("Request completed",
				"request_id", pkglog.GetRequestID(ctx),
				"endpoint", u.Path,
				"attempts", attempt,
				"duration", e.now().Sub(start),
			)
			return &Response{
				StatusCode: raw.StatusCode,
				Header:     raw.Header,
				Body:       raw.Body,
				FinalURL:   raw.FinalURL,
				ProfileID:  ex.ProfileID,
				Attempts:   attempt,
				Duration:   e.now().Sub(start),
			}, nil
		case OutcomeQuotaExhausted:
			return nil, e.fail(p, newQuotaExceededError(o.RetryAfter, map[string]string{
				"stage":    "upstream",
				"attempts": strconv.Itoa(attempt),
			}))
		case OutcomeOther4xx:
			if o.IdentityBlocked {
				e.identity.Rotate(ctx, gen, rotationReason(o))
			}
			return nil, e.fail(p, newUpstreamRejectedError(o))
		}

		if o.IdentityBlocked {
			e.identity.Rotate(ctx, gen, rotationReason(o))
		}
		if attempt > maxRetries {
			break
		}
		e.metrics.recordRetry(o.Kind)
	}

	if last.Kind == OutcomeRateLimited {
		return nil, e.fail(p, newQuotaExceededError(e.suggestWait(last), map[string]string{
			"stage":    "retries",
			"attempts": strconv.Itoa(attempt),
		}))
	}
	cause := last.Err
	if cause == nil {
		cause = fmt.Errorf("upstream status %d", last.StatusCode)
	}
	return nil, e.fail(p, newTransportFailureError(attempt, cause))
}

// feed applies one outcome to every stateful component as a single step.
func (e *Executor) feed(permit *Permit, ticket BreakerTicket, o Outcome, d time.Duration) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	permit.Done(o.Kind)
	e.breaker.Record(ticket, o.Kind)
	e.degradation.Record(o.Kind)
	e.analyzer.Record(o.Kind, o.At)
	e.recent.add(o, d)
	e.metrics.observeAttempt(o.Kind, d)
}

// suggestWait picks the longest of the upstream hint, the analyzer's
// predicted reset and the gate's current effective delay.
func (e *Executor) suggestWait(o Outcome) time.Duration {
	wait := o.RetryAfter
	if d, ok := e.analyzer.WaitHint(e.now()); ok && d > wait {
		wait = d
	}
	if d := e.gate.EffectiveDelay(); d > wait {
		wait = d
	}
	return wait
}

func (e *Executor) fail(p Priority, err error) error {
	e.metrics.recordResult(p, strings.ToLower(errors.Reason(err)))
	return err
}

func rotationReason(o Outcome) string {
	if o.StatusCode == 403 {
		return "forbidden"
	}
	return "interstitial"
}

// Reset clears throttling state in every component. With forgetSession the
// persisted identity is discarded as well.
func (e *Executor) Reset(ctx context.Context, forgetSession bool) error {
	e.feedMu.Lock()
	e.gate.Reset(ctx)
	e.breaker.Reset()
	e.degradation.Reset()
	e.analyzer.Reset()
	e.feedMu.Unlock()

	if forgetSession {
		return e.identity.Forget(ctx)
	}
	return nil
}

// Checkpoint closes a tuning sample and persists the identity session if it
// changed since the last save.
func (e *Executor) Checkpoint(ctx context.Context) error {
	e.sampleTuning()
	return e.identity.Checkpoint(ctx)
}

// Close persists the identity state.
func (e *Executor) Close(ctx context.Context) error {
	e.sampleTuning()
	return e.identity.Close(ctx)
}

func (e *Executor) sampleTuning() {
	gs := e.gate.Stats()
	e.feedMu.Lock()
	c := TuningCounters{
		At:              e.now(),
		BaseDelay:       gs.BaseDelay,
		RequestsPerHour: gs.RequestsPerHour,
		Exchanges:       e.recent.total,
		Succeeded:       e.recent.succeeded,
		Throttled:       e.recent.throttled,
		LatencySum:      e.recent.latency,
	}
	e.feedMu.Unlock()
	e.tuner.Observe(c)
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	UtilizationPct      float64 `json:"utilization_pct"`
	DelayMultiplier     float64 `json:"delay_multiplier"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	DegradationLevel    string  `json:"degradation_level"`
	BreakerState        string  `json:"breaker_state"`

	Gate        GateStats        `json:"gate"`
	Breaker     BreakerStats     `json:"breaker"`
	Degradation DegradationStats `json:"degradation"`
	Identity    IdentityStats    `json:"identity"`
	Quota       QuotaStats       `json:"quota"`
	Requests    WindowStats      `json:"requests"`
	Tuning      TuningStats      `json:"tuning"`
}

// Stats returns current pipeline statistics.
func (e *Executor) Stats() Stats {
	e.feedMu.Lock()
	gs := e.gate.Stats()
	bs := e.breaker.Stats()
	ds := e.degradation.Stats()
	ws := e.recent.stats()
	e.feedMu.Unlock()
	qs := e.analyzer.Stats()

	return Stats{
		UtilizationPct:      gs.UtilizationPct,
		DelayMultiplier:     gs.DelayMultiplier,
		ConsecutiveFailures: gs.ConsecutiveFailures,
		DegradationLevel:    ds.Level,
		BreakerState:        bs.State,
		Gate:                gs,
		Breaker:             bs,
		Degradation:         ds,
		Identity:            e.identity.Stats(),
		Quota:               qs,
		Requests:            ws,
		Tuning:              e.tuner.Stats(e.now(), qs),
	}
}

// Profiles returns the configured identity profile table.
func (e *Executor) Profiles() []IdentityProfile {
	return e.identity.table.Profiles()
}
