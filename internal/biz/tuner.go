package biz

import (
	"fmt"
	"sync"
	"time"

	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	tunerHistory        = 50
	tunerMinExchanges   = 10
	tunerSuggestMin     = 3
	tunerAutoTuneMin    = 5
	tunerRecent         = 10
	tunerMinSuccessPct  = 85.0
	tunerLowSuccessPct  = 80.0
	tunerHighSuccessPct = 95.0
	tunerDelayStepUp    = 2 * time.Second
	tunerDelayStepDown  = time.Second
	tunerMinBaseDelay   = 5 * time.Second
)

// TuningCounters are cumulative pipeline totals at one instant.
type TuningCounters struct {
	At              time.Time
	BaseDelay       time.Duration
	RequestsPerHour int
	Exchanges       int64
	Succeeded       int64
	Throttled       int64
	LatencySum      time.Duration
}

// TuningSample is the performance of one sampling period under one gate
// configuration.
type TuningSample struct {
	At              time.Time     `json:"at"`
	BaseDelay       time.Duration `json:"base_delay"`
	RequestsPerHour int           `json:"requests_per_hour"`
	Exchanges       int64         `json:"exchanges"`
	SuccessPct      float64       `json:"success_pct"`
	ThrottledPct    float64       `json:"throttled_pct"`
	AvgLatency      time.Duration `json:"avg_latency"`
}

// ConfigSuggestion is the best configuration seen so far.
type ConfigSuggestion struct {
	BaseDelay          time.Duration `json:"base_delay"`
	RequestsPerHour    int           `json:"requests_per_hour"`
	ExpectedSuccessPct float64       `json:"expected_success_pct"`
	ExpectedLatency    time.Duration `json:"expected_latency"`
}

// TuningAdjustment proposes a new base delay. It is advisory; the gate is
// never reconfigured at runtime.
type TuningAdjustment struct {
	From      time.Duration `json:"from"`
	BaseDelay time.Duration `json:"base_delay"`
	Reason    string        `json:"reason"`
	HoldUntil *time.Time    `json:"hold_until,omitempty"`
}

// ConfigTuner records per-period performance and suggests gate settings.
type ConfigTuner struct {
	mu sync.Mutex

	history  []TuningSample
	baseline TuningCounters
	log      *pkglog.LogHelper
}

// NewConfigTuner creates an empty tuner.
func NewConfigTuner(logger log.Logger) *ConfigTuner {
	return &ConfigTuner{log: pkglog.NewLogHelper(logger)}
}

// Observe closes a sampling period at c. Periods with too few exchanges are
// carried over into the next one.
func (t *ConfigTuner) Observe(c TuningCounters) (TuningSample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := c.Exchanges - t.baseline.Exchanges
	if n < tunerMinExchanges {
		return TuningSample{}, false
	}
	s := TuningSample{
		At:              c.At,
		BaseDelay:       c.BaseDelay,
		RequestsPerHour: c.RequestsPerHour,
		Exchanges:       n,
		SuccessPct:      float64(c.Succeeded-t.baseline.Succeeded) * 100 / float64(n),
		ThrottledPct:    float64(c.Throttled-t.baseline.Throttled) * 100 / float64(n),
		AvgLatency:      (c.LatencySum - t.baseline.LatencySum) / time.Duration(n),
	}
	t.baseline = c
	t.history = append(t.history, s)
	if len(t.history) > tunerHistory {
		t.history = append(t.history[:0], t.history[len(t.history)-tunerHistory:]...)
	}
	t.log.Tuning("Recorded tuning sample",
		"base_delay", s.BaseDelay,
		"success_pct", s.SuccessPct,
		"avg_latency", s.AvgLatency,
		"exchanges", s.Exchanges,
	)
	return s, true
}

// Suggest returns the best sample at or above minSuccessPct, preferring
// higher success and then lower latency. It needs three samples.
func (t *ConfigTuner) Suggest(minSuccessPct float64) *ConfigSuggestion {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suggestLocked(minSuccessPct)
}

func (t *ConfigTuner) suggestLocked(minSuccessPct float64) *ConfigSuggestion {
	if len(t.history) < tunerSuggestMin {
		return nil
	}
	var best *TuningSample
	for i := range t.history {
		s := &t.history[i]
		if s.SuccessPct < minSuccessPct {
			continue
		}
		if best == nil || s.SuccessPct > best.SuccessPct ||
			(s.SuccessPct == best.SuccessPct && s.AvgLatency < best.AvgLatency) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return &ConfigSuggestion{
		BaseDelay:          best.BaseDelay,
		RequestsPerHour:    best.RequestsPerHour,
		ExpectedSuccessPct: best.SuccessPct,
		ExpectedLatency:    best.AvgLatency,
	}
}

// AutoTune proposes a base delay change from the recent success rate, or
// nil when the current delay looks right. predictedReset, when known and in
// the future, is carried as the instant to hold traffic until.
func (t *ConfigTuner) AutoTune(now time.Time, predictedReset *time.Time) *TuningAdjustment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoTuneLocked(now, predictedReset)
}

func (t *ConfigTuner) autoTuneLocked(now time.Time, predictedReset *time.Time) *TuningAdjustment {
	if len(t.history) < tunerAutoTuneMin {
		return nil
	}
	recent := t.history
	if len(recent) > tunerRecent {
		recent = recent[len(recent)-tunerRecent:]
	}
	avg := meanSuccess(recent)
	current := recent[len(recent)-1].BaseDelay

	switch {
	case avg < tunerLowSuccessPct:
		adj := &TuningAdjustment{
			From:      current,
			BaseDelay: current + tunerDelayStepUp,
			Reason:    fmt.Sprintf("low success rate (%.1f%%), increase delay", avg),
		}
		if predictedReset != nil && predictedReset.After(now) {
			at := *predictedReset
			adj.HoldUntil = &at
		}
		return adj
	case avg > tunerHighSuccessPct && current > tunerMinBaseDelay:
		next := current - tunerDelayStepDown
		if next < tunerMinBaseDelay {
			next = tunerMinBaseDelay
		}
		return &TuningAdjustment{
			From:      current,
			BaseDelay: next,
			Reason:    fmt.Sprintf("high success rate (%.1f%%), decrease delay", avg),
		}
	}
	return nil
}

// Reset drops the recorded history.
func (t *ConfigTuner) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
}

// TuningStats summarizes the tuning history with the current advice.
type TuningStats struct {
	Samples         int               `json:"samples"`
	AvgSuccessPct   float64           `json:"avg_success_pct"`
	BestSuccessPct  float64           `json:"best_success_pct"`
	WorstSuccessPct float64           `json:"worst_success_pct"`
	RecentAvgPct    float64           `json:"recent_avg_pct"`
	QuotaWindow     time.Duration     `json:"quota_window,omitempty"`
	Suggestion      *ConfigSuggestion `json:"suggestion,omitempty"`
	Adjustment      *TuningAdjustment `json:"adjustment,omitempty"`
}

// Stats returns the summary. quota is the analyzer's current view.
func (t *ConfigTuner) Stats(now time.Time, quota QuotaStats) TuningStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TuningStats{Samples: len(t.history), QuotaWindow: quota.DetectedWindow}
	if len(t.history) == 0 {
		return s
	}
	s.AvgSuccessPct = meanSuccess(t.history)
	s.BestSuccessPct, s.WorstSuccessPct = t.history[0].SuccessPct, t.history[0].SuccessPct
	for _, h := range t.history[1:] {
		if h.SuccessPct > s.BestSuccessPct {
			s.BestSuccessPct = h.SuccessPct
		}
		if h.SuccessPct < s.WorstSuccessPct {
			s.WorstSuccessPct = h.SuccessPct
		}
	}
	recent := t.history
	if len(recent) > tunerRecent {
		recent = recent[len(recent)-tunerRecent:]
	}
	s.RecentAvgPct = meanSuccess(recent)
	s.Suggestion = t.suggestLocked(tunerMinSuccessPct)
	s.Adjustment = t.autoTuneLocked(now, quota.PredictedReset)
	return s
}

func meanSuccess(samples []TuningSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.SuccessPct
	}
	return sum / float64(len(samples))
}
