package biz

import (
	"os"
	"testing"

	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func newTestDegradation() *DegradationController {
	return NewDegradationController(&conf.Degradation{
		MinorThreshold:    5,
		MajorThreshold:    10,
		RecoveryThreshold: 3,
		HealthyThreshold:  6,
	}, nil, log.NewStdLogger(os.Stdout))
}

func feedN(d *DegradationController, kind OutcomeKind, n int) {
	for i := 0; i < n; i++ {
		d.Record(kind)
	}
}

func TestDegradation_AdmissionTable(t *testing.T) {
	tests := []struct {
		level Level
		low   bool
		med   bool
		high  bool
	}{
		{LevelHealthy, true, true, true},
		{LevelDegradedMinor, false, true, true},
		{LevelDegradedMajor, false, false, true},
		{LevelRecovery, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			d := newTestDegradation()
			d.level = tt.level

			ok, lvl := d.Admit(PriorityLow)
			assert.Equal(t, tt.low, ok)
			assert.Equal(t, tt.level, lvl)
			ok, _ = d.Admit(PriorityMedium)
			assert.Equal(t, tt.med, ok)
			ok, _ = d.Admit(PriorityHigh)
			assert.Equal(t, tt.high, ok)
		})
	}
}

func TestDegradation_EscalatesOnRateLimitRuns(t *testing.T) {
	d := newTestDegradation()

	feedN(d, OutcomeRateLimited, 4)
	assert.Equal(t, LevelHealthy, d.Level())

	d.Record(OutcomeQuotaExhausted)
	assert.Equal(t, LevelDegradedMinor, d.Level())

	feedN(d, OutcomeRateLimited, 5)
	assert.Equal(t, LevelDegradedMajor, d.Level())
}

func TestDegradation_SuccessBreaksStreak(t *testing.T) {
	d := newTestDegradation()
	feedN(d, OutcomeRateLimited, 4)
	d.Record(OutcomeSuccess)
	feedN(d, OutcomeRateLimited, 4)
	assert.Equal(t, LevelHealthy, d.Level())
}

func TestDegradation_NoDowngradeWhileThrottled(t *testing.T) {
	d := newTestDegradation()
	feedN(d, OutcomeRateLimited, 10)
	assert.Equal(t, LevelDegradedMajor, d.Level())

	// A short new streak stays at Major.
	d.Record(OutcomeSuccess)
	d.Record(OutcomeRateLimited)
	assert.Equal(t, LevelDegradedMajor, d.Level())
}

func TestDegradation_RecoveryPath(t *testing.T) {
	d := newTestDegradation()
	feedN(d, OutcomeRateLimited, 10)

	feedN(d, OutcomeSuccess, 2)
	assert.Equal(t, LevelDegradedMajor, d.Level())
	d.Record(OutcomeSuccess)
	assert.Equal(t, LevelRecovery, d.Level())

	feedN(d, OutcomeSuccess, 2)
	assert.Equal(t, LevelRecovery, d.Level())
	d.Record(OutcomeSuccess)
	assert.Equal(t, LevelHealthy, d.Level())
	assert.Equal(t, int64(4), d.Stats().LevelChanges)
}

func TestDegradation_FailureDuringRecovery(t *testing.T) {
	for _, kind := range []OutcomeKind{OutcomeRateLimited, OutcomeTransportFailure, OutcomeOther4xx} {
		t.Run(kind.String(), func(t *testing.T) {
			d := newTestDegradation()
			feedN(d, OutcomeRateLimited, 5)
			feedN(d, OutcomeSuccess, 3)
			assert.Equal(t, LevelRecovery, d.Level())

			d.Record(kind)
			assert.Equal(t, LevelDegradedMajor, d.Level())
		})
	}
}

func TestDegradation_SkipsCounted(t *testing.T) {
	d := newTestDegradation()
	feedN(d, OutcomeRateLimited, 10)

	ok, level := d.Admit(PriorityLow)
	assert.False(t, ok)
	assert.Equal(t, LevelDegradedMajor, level)
	d.Admit(PriorityMedium)
	d.Admit(PriorityHigh)
	assert.Equal(t, int64(2), d.Stats().Skipped)

	d.Reset()
	assert.Equal(t, LevelHealthy, d.Level())
	ok, _ = d.Admit(PriorityLow)
	assert.True(t, ok)
}
