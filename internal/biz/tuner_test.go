package biz

import (
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tunerPeriod struct {
	base    time.Duration
	success float64
	latency time.Duration
}

// runPeriods feeds one 100-exchange sample per period.
func runPeriods(t *testing.T, tuner *ConfigTuner, periods ...tunerPeriod) {
	t.Helper()
	var c TuningCounters
	c.At = time.Unix(1_700_000_000, 0)
	for _, p := range periods {
		c.At = c.At.Add(10 * time.Minute)
		c.BaseDelay = p.base
		c.RequestsPerHour = 200
		c.Exchanges += 100
		c.Succeeded += int64(p.success)
		c.Throttled += 100 - int64(p.success)
		c.LatencySum += 100 * p.latency
		_, ok := tuner.Observe(c)
		require.True(t, ok)
	}
}

func newTestTuner() *ConfigTuner {
	return NewConfigTuner(log.NewStdLogger(os.Stdout))
}

func TestConfigTuner_ObserveCarriesShortPeriods(t *testing.T) {
	tuner := newTestTuner()
	at := time.Unix(1_700_000_000, 0)

	_, ok := tuner.Observe(TuningCounters{At: at, BaseDelay: 6 * time.Second, Exchanges: 4, Succeeded: 4, LatencySum: 4 * time.Second})
	assert.False(t, ok)

	s, ok := tuner.Observe(TuningCounters{At: at.Add(time.Minute), BaseDelay: 6 * time.Second, Exchanges: 20, Succeeded: 15, Throttled: 5, LatencySum: 40 * time.Second})
	require.True(t, ok)
	assert.Equal(t, int64(20), s.Exchanges)
	assert.Equal(t, 75.0, s.SuccessPct)
	assert.Equal(t, 25.0, s.ThrottledPct)
	assert.Equal(t, 2*time.Second, s.AvgLatency)

	// the next period is measured from the last recorded sample
	s, ok = tuner.Observe(TuningCounters{At: at.Add(2 * time.Minute), Exchanges: 30, Succeeded: 25, LatencySum: 50 * time.Second})
	require.True(t, ok)
	assert.Equal(t, int64(10), s.Exchanges)
	assert.Equal(t, 100.0, s.SuccessPct)
	assert.Equal(t, time.Second, s.AvgLatency)
}

func TestConfigTuner_Suggest(t *testing.T) {
	tests := []struct {
		name     string
		periods  []tunerPeriod
		wantBase time.Duration
		wantNil  bool
	}{
		{
			name:    "too few samples",
			periods: []tunerPeriod{{6 * time.Second, 99, time.Second}, {7 * time.Second, 99, time.Second}},
			wantNil: true,
		},
		{
			name: "highest success wins",
			periods: []tunerPeriod{
				{6 * time.Second, 88, time.Second},
				{9 * time.Second, 97, 3 * time.Second},
				{7 * time.Second, 90, time.Second},
			},
			wantBase: 9 * time.Second,
		},
		{
			name: "ties go to the faster config",
			periods: []tunerPeriod{
				{6 * time.Second, 95, 2 * time.Second},
				{8 * time.Second, 95, time.Second},
				{7 * time.Second, 60, time.Second},
			},
			wantBase: 8 * time.Second,
		},
		{
			name: "nothing above the floor",
			periods: []tunerPeriod{
				{6 * time.Second, 70, time.Second},
				{8 * time.Second, 80, time.Second},
				{7 * time.Second, 84, time.Second},
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner := newTestTuner()
			runPeriods(t, tuner, tt.periods...)
			got := tuner.Suggest(tunerMinSuccessPct)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantBase, got.BaseDelay)
			assert.Equal(t, 200, got.RequestsPerHour)
		})
	}
}

func repeatPeriod(p tunerPeriod, n int) []tunerPeriod {
	out := make([]tunerPeriod, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestConfigTuner_AutoTune(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	reset := now.Add(20 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name     string
		periods  []tunerPeriod
		reset    *time.Time
		wantNil  bool
		wantBase time.Duration
		wantHold *time.Time
	}{
		{
			name:    "needs five samples",
			periods: repeatPeriod(tunerPeriod{6 * time.Second, 50, time.Second}, 4),
			wantNil: true,
		},
		{
			name:     "low success backs off",
			periods:  repeatPeriod(tunerPeriod{6 * time.Second, 50, time.Second}, 5),
			wantBase: 8 * time.Second,
		},
		{
			name:     "low success holds until the predicted reset",
			periods:  repeatPeriod(tunerPeriod{6 * time.Second, 50, time.Second}, 5),
			reset:    &reset,
			wantBase: 8 * time.Second,
			wantHold: &reset,
		},
		{
			name:     "a reset already passed is not carried",
			periods:  repeatPeriod(tunerPeriod{6 * time.Second, 50, time.Second}, 5),
			reset:    &past,
			wantBase: 8 * time.Second,
		},
		{
			name:     "high success speeds up",
			periods:  repeatPeriod(tunerPeriod{8 * time.Second, 99, time.Second}, 5),
			wantBase: 7 * time.Second,
		},
		{
			name:     "speed up stops at the floor",
			periods:  repeatPeriod(tunerPeriod{5500 * time.Millisecond, 99, time.Second}, 5),
			wantBase: 5 * time.Second,
		},
		{
			name:    "already at the floor",
			periods: repeatPeriod(tunerPeriod{5 * time.Second, 99, time.Second}, 5),
			wantNil: true,
		},
		{
			name:    "middle band keeps the delay",
			periods: repeatPeriod(tunerPeriod{6 * time.Second, 90, time.Second}, 5),
			wantNil: true,
		},
		{
			name: "only the last ten samples count",
			periods: append(
				repeatPeriod(tunerPeriod{6 * time.Second, 10, time.Second}, 5),
				repeatPeriod(tunerPeriod{6 * time.Second, 90, time.Second}, 10)...),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner := newTestTuner()
			runPeriods(t, tuner, tt.periods...)
			got := tuner.AutoTune(now, tt.reset)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.periods[len(tt.periods)-1].base, got.From)
			assert.Equal(t, tt.wantBase, got.BaseDelay)
			assert.NotEmpty(t, got.Reason)
			assert.Equal(t, tt.wantHold, got.HoldUntil)
		})
	}
}

func TestConfigTuner_StatsAndReset(t *testing.T) {
	tuner := newTestTuner()
	now := time.Unix(1_800_000_000, 0)

	empty := tuner.Stats(now, QuotaStats{})
	assert.Zero(t, empty.Samples)
	assert.Nil(t, empty.Suggestion)

	runPeriods(t, tuner,
		tunerPeriod{6 * time.Second, 90, time.Second},
		tunerPeriod{7 * time.Second, 96, time.Second},
		tunerPeriod{8 * time.Second, 60, time.Second},
	)
	s := tuner.Stats(now, QuotaStats{DetectedWindow: time.Hour})
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 82.0, s.AvgSuccessPct)
	assert.Equal(t, 96.0, s.BestSuccessPct)
	assert.Equal(t, 60.0, s.WorstSuccessPct)
	assert.Equal(t, 82.0, s.RecentAvgPct)
	assert.Equal(t, time.Hour, s.QuotaWindow)
	require.NotNil(t, s.Suggestion)
	assert.Equal(t, 7*time.Second, s.Suggestion.BaseDelay)
	assert.Nil(t, s.Adjustment)

	tuner.Reset()
	assert.Zero(t, tuner.Stats(now, QuotaStats{}).Samples)
}

func TestConfigTuner_HistoryIsBounded(t *testing.T) {
	tuner := newTestTuner()
	runPeriods(t, tuner, repeatPeriod(tunerPeriod{6 * time.Second, 90, time.Second}, tunerHistory+7)...)
	assert.Equal(t, tunerHistory, tuner.Stats(time.Now(), QuotaStats{}).Samples)
}
