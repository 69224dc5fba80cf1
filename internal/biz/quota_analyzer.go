package biz

import (
	"sort"
	"sync"
	"time"
)

const (
	analyzerHistory     = 1000
	analyzerMinSuccess  = 10
	analyzerMinDeltas   = 5
	analyzerBins        = 20
	analyzerMaxInterval = time.Hour
)

// QuotaAnalyzer learns the upstream quota period from the spacing of
// successful exchanges and predicts when throttling will lift.
type QuotaAnalyzer struct {
	mu sync.Mutex

	successes []time.Time
	failures  []time.Time
	window    time.Duration // 0 until detected
}

// NewQuotaAnalyzer creates an empty analyzer.
func NewQuotaAnalyzer() *QuotaAnalyzer {
	return &QuotaAnalyzer{}
}

// Record stores one outcome. Only successes and throttling are relevant.
func (a *QuotaAnalyzer) Record(kind OutcomeKind, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case kind == OutcomeSuccess:
		a.successes = appendBounded(a.successes, at)
		a.window = 0
	case kind.IsRateLimit():
		a.failures = appendBounded(a.failures, at)
	}
}

// Window returns the detected quota period, if enough history exists.
func (a *QuotaAnalyzer) Window() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detectLocked()
}

// PredictReset returns the predicted instant throttling lifts: the last
// throttled exchange plus the detected window.
func (a *QuotaAnalyzer) PredictReset() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.failures) == 0 {
		return time.Time{}, false
	}
	w, ok := a.detectLocked()
	if !ok {
		return time.Time{}, false
	}
	return a.failures[len(a.failures)-1].Add(w), true
}

// WaitHint returns how long from now until the predicted reset.
func (a *QuotaAnalyzer) WaitHint(now time.Time) (time.Duration, bool) {
	at, ok := a.PredictReset()
	if !ok || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}

// Reset clears all history.
func (a *QuotaAnalyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successes = nil
	a.failures = nil
	a.window = 0
}

// QuotaStats is a point-in-time view of the analyzer.
type QuotaStats struct {
	Successes      int           `json:"successes"`
	Failures       int           `json:"failures"`
	DetectedWindow time.Duration `json:"detected_window,omitempty"`
	PredictedReset *time.Time    `json:"predicted_reset,omitempty"`
}

// Stats returns current analyzer statistics.
func (a *QuotaAnalyzer) Stats() QuotaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := QuotaStats{Successes: len(a.successes), Failures: len(a.failures)}
	if w, ok := a.detectLocked(); ok {
		s.DetectedWindow = w
		if len(a.failures) > 0 {
			at := a.failures[len(a.failures)-1].Add(w)
			s.PredictedReset = &at
		}
	}
	return s
}

// detectLocked finds the modal interval between consecutive successes using
// a fixed-bin histogram. Gaps of an hour or more are breaks, not quota.
func (a *QuotaAnalyzer) detectLocked() (time.Duration, bool) {
	if a.window > 0 {
		return a.window, true
	}
	if len(a.successes) < analyzerMinSuccess {
		return 0, false
	}
	ts := append([]time.Time(nil), a.successes...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	deltas := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		d := ts[i].Sub(ts[i-1])
		if d < analyzerMaxInterval {
			deltas = append(deltas, d.Seconds())
		}
	}
	if len(deltas) < analyzerMinDeltas {
		return 0, false
	}

	lo, hi := deltas[0], deltas[0]
	for _, d := range deltas {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	if hi == lo {
		a.window = time.Duration(lo * float64(time.Second))
		return a.window, a.window > 0
	}

	width := (hi - lo) / analyzerBins
	var hist [analyzerBins]int
	for _, d := range deltas {
		i := int((d - lo) / width)
		if i >= analyzerBins {
			i = analyzerBins - 1
		}
		hist[i]++
	}
	modal := 0
	for i := range hist {
		if hist[i] > hist[modal] {
			modal = i
		}
	}
	mid := lo + width*(float64(modal)+0.5)
	a.window = time.Duration(mid * float64(time.Second))
	return a.window, a.window > 0
}

func appendBounded(ts []time.Time, t time.Time) []time.Time {
	ts = append(ts, t)
	if len(ts) > analyzerHistory {
		ts = ts[len(ts)-analyzerHistory:]
	}
	return ts
}
