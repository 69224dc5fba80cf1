package biz

import (
	"sort"
	"time"
)

const requestWindowSize = 100

// requestWindow keeps the most recent exchanges for rolling statistics.
// Guarded by the executor's feed mutex.
type requestWindow struct {
	durations [requestWindowSize]time.Duration
	success   [requestWindowSize]bool
	next      int
	size      int

	total     int64
	succeeded int64
	throttled int64
	failed    int64
	latency   time.Duration
	lastOK    time.Time
	lastFail  time.Time
}

func (w *requestWindow) add(o Outcome, d time.Duration) {
	ok := o.Kind == OutcomeSuccess
	w.durations[w.next] = d
	w.success[w.next] = ok
	w.next = (w.next + 1) % requestWindowSize
	if w.size < requestWindowSize {
		w.size++
	}

	w.total++
	w.latency += d
	switch {
	case ok:
		w.succeeded++
		w.lastOK = o.At
	case o.Kind.IsRateLimit():
		w.throttled++
		w.lastFail = o.At
	default:
		w.failed++
		w.lastFail = o.At
	}
}

// WindowStats are rolling statistics over the most recent exchanges.
type WindowStats struct {
	Exchanges     int64         `json:"exchanges"`
	Succeeded     int64         `json:"succeeded"`
	Throttled     int64         `json:"throttled"`
	Failed        int64         `json:"failed"`
	RecentSize    int           `json:"recent_size"`
	RecentSuccess float64       `json:"recent_success_pct"`
	AvgLatency    time.Duration `json:"avg_latency"`
	P95Latency    time.Duration `json:"p95_latency"`
	MinLatency    time.Duration `json:"min_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
	LastSuccessAt *time.Time    `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time    `json:"last_failure_at,omitempty"`
}

func (w *requestWindow) stats() WindowStats {
	s := WindowStats{
		Exchanges:  w.total,
		Succeeded:  w.succeeded,
		Throttled:  w.throttled,
		Failed:     w.failed,
		RecentSize: w.size,
	}
	if !w.lastOK.IsZero() {
		t := w.lastOK
		s.LastSuccessAt = &t
	}
	if !w.lastFail.IsZero() {
		t := w.lastFail
		s.LastFailureAt = &t
	}
	if w.size == 0 {
		return s
	}

	ds := make([]time.Duration, w.size)
	var sum time.Duration
	ok := 0
	for i := 0; i < w.size; i++ {
		ds[i] = w.durations[i]
		sum += ds[i]
		if w.success[i] {
			ok++
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })

	s.RecentSuccess = float64(ok) / float64(w.size) * 100
	s.AvgLatency = sum / time.Duration(w.size)
	s.MinLatency = ds[0]
	s.MaxLatency = ds[len(ds)-1]
	s.P95Latency = ds[(len(ds)*95+99)/100-1]
	return s
}
