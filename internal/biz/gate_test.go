package biz

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGrantLedger is a mock implementation of GrantLedger for testing.
type MockGrantLedger struct {
	mock.Mock
}

func (m *MockGrantLedger) Load(ctx context.Context, since time.Time) ([]time.Time, error) {
	args := m.Called(ctx, since)
	if v := args.Get(0); v != nil {
		return v.([]time.Time), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGrantLedger) Append(ctx context.Context, at time.Time) error {
	args := m.Called(ctx, at)
	return args.Error(0)
}

func (m *MockGrantLedger) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestGate(c *conf.Gate) *AdmissionGate {
	g := NewAdmissionGate(c, nil, nil, log.NewStdLogger(os.Stdout))
	g.rng = rand.New(rand.NewSource(42))
	return g
}

func TestAcquire_FirstRequestImmediate(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 10, Window: time.Hour, BaseDelay: time.Hour, MaxMultiplier: 3})

	start := time.Now()
	p, err := g.Acquire(context.Background(), PriorityMedium)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, g.Stats().RequestsInWindow)
	p.Done(OutcomeSuccess)
}

func TestAcquire_MinimumSpacing(t *testing.T) {
	base := 80 * time.Millisecond
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: base, MaxMultiplier: 3})
	ctx := context.Background()

	first, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)
	second, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)

	gap := second.GrantedAt.Sub(first.GrantedAt)
	assert.GreaterOrEqual(t, gap, time.Duration(float64(base)*(1-normalJitter)))
}

func TestAcquire_SlidingWindowBlocksUntilOldestExpires(t *testing.T) {
	window := 150 * time.Millisecond
	g := newTestGate(&conf.Gate{RequestsPerHour: 2, Window: window, MaxMultiplier: 3})
	ctx := context.Background()

	first, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)

	third, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, third.GrantedAt.Sub(first.GrantedAt), window)
	assert.LessOrEqual(t, g.Stats().RequestsInWindow, 2)
}

func TestAcquire_QuotaWaitBeyondMaximum(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 1, Window: time.Hour, MaxMultiplier: 3, MaxQuotaWait: time.Second})
	ctx := context.Background()

	_, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)

	_, err = g.Acquire(ctx, PriorityMedium)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	wait, ok := SuggestedWait(err)
	assert.True(t, ok)
	assert.Greater(t, wait, 59*time.Minute)
	assert.Equal(t, 0, g.Stats().Waiting)
}

func TestAcquire_ContextTimeout(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 1, Window: time.Hour, MaxMultiplier: 3})
	_, err := g.Acquire(context.Background(), PriorityMedium)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, PriorityHigh)
	require.Error(t, err)
	assert.True(t, IsGateTimeout(err))
	assert.Equal(t, 0, g.Stats().Waiting)
	assert.Equal(t, 1, g.Stats().RequestsInWindow)
}

func TestAcquire_AlreadyCancelled(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 10, Window: time.Hour, MaxMultiplier: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx, PriorityHigh)
	assert.True(t, IsGateTimeout(err))
	assert.Equal(t, 0, g.Stats().RequestsInWindow)
}

func TestAcquire_HigherPriorityServedFirst(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: 150 * time.Millisecond, MaxMultiplier: 3})
	ctx := context.Background()
	_, err := g.Acquire(ctx, PriorityMedium)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []Priority
		wg    sync.WaitGroup
	)
	enqueue := func(p Priority) {
		defer wg.Done()
		_, err := g.Acquire(ctx, p)
		assert.NoError(t, err)
		mu.Lock()
		order = append(order, p)
		mu.Unlock()
	}

	wg.Add(2)
	go enqueue(PriorityLow)
	require.Eventually(t, func() bool { return g.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)
	go enqueue(PriorityHigh)
	require.Eventually(t, func() bool { return g.Stats().Waiting == 2 }, time.Second, 5*time.Millisecond)
	wg.Wait()

	assert.Equal(t, []Priority{PriorityHigh, PriorityLow}, order)
}

func TestObserve_EscalationSteps(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: 10 * time.Second, MaxMultiplier: 3})

	tests := []struct {
		kind OutcomeKind
		want float64
	}{
		{OutcomeRateLimited, 1.5},
		{OutcomeRateLimited, 2.0},
		{OutcomeQuotaExhausted, 3.0},
		{OutcomeRateLimited, 3.0},
		{OutcomeTransportFailure, 3.0},
		{OutcomeSuccess, 2.4},
		{OutcomeSuccess, 1.92},
	}
	for i, tt := range tests {
		g.Observe(tt.kind)
		assert.InDelta(t, tt.want, g.Stats().DelayMultiplier, 1e-9, "step %d", i)
	}
	assert.Equal(t, 0, g.Stats().ConsecutiveFailures)
}

func TestObserve_Other4xxEscalates(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 3})
	g.Observe(OutcomeOther4xx)
	assert.Equal(t, 1.5, g.Stats().DelayMultiplier)
	assert.Equal(t, 1, g.Stats().ConsecutiveFailures)
}

func TestObserve_MultiplierCappedByConfig(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 2})
	for i := 0; i < 5; i++ {
		g.Observe(OutcomeRateLimited)
	}
	s := g.Stats()
	assert.Equal(t, 2.0, s.DelayMultiplier)
	assert.False(t, s.EmergencyMode)
	assert.Equal(t, 5, s.ConsecutiveFailures)
}

func TestObserve_RecoveryNeverBelowOne(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 3})
	g.Observe(OutcomeRateLimited)
	for i := 0; i < 10; i++ {
		g.Observe(OutcomeSuccess)
	}
	assert.Equal(t, 1.0, g.Stats().DelayMultiplier)
	assert.Equal(t, time.Second, g.EffectiveDelay())
}

func TestSpacing_JitterBounds(t *testing.T) {
	base := 10 * time.Second
	g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: base, MaxMultiplier: 3})

	check := func(mult, band float64) {
		lo := time.Duration(float64(base) * mult * (1 - band))
		hi := time.Duration(float64(base) * mult * (1 + band))
		for i := 0; i < 1000; i++ {
			g.mu.Lock()
			g.redrawLocked()
			spacing := g.spacing
			g.mu.Unlock()
			require.GreaterOrEqual(t, spacing, lo)
			require.LessOrEqual(t, spacing, hi)
		}
	}

	check(1.0, normalJitter)
	for i := 0; i < 3; i++ {
		g.Observe(OutcomeRateLimited)
	}
	assert.True(t, g.Stats().EmergencyMode)
	assert.Equal(t, emergencyJitter, g.Stats().JitterBand)
	check(3.0, emergencyJitter)
}

func TestNewAdmissionGate_RestoresLedger(t *testing.T) {
	ledger := new(MockGrantLedger)
	now := time.Now()
	ledger.On("Load", mock.Anything, mock.AnythingOfType("time.Time")).
		Return([]time.Time{now.Add(-30 * time.Minute), now.Add(-time.Minute)}, nil)

	g := NewAdmissionGate(&conf.Gate{RequestsPerHour: 2, Window: time.Hour, MaxMultiplier: 3, MaxQuotaWait: time.Second},
		ledger, nil, log.NewStdLogger(os.Stdout))

	s := g.Stats()
	assert.Equal(t, 2, s.RequestsInWindow)
	assert.Equal(t, 100.0, s.UtilizationPct)

	_, err := g.Acquire(context.Background(), PriorityHigh)
	assert.True(t, IsQuotaExceeded(err))
	ledger.AssertExpectations(t)
}

func TestNewAdmissionGate_LedgerUnavailable(t *testing.T) {
	ledger := new(MockGrantLedger)
	ledger.On("Load", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	ledger.On("Append", mock.Anything, mock.Anything).Return(assert.AnError)

	g := NewAdmissionGate(&conf.Gate{RequestsPerHour: 5, Window: time.Hour, MaxMultiplier: 3}, ledger, nil, log.NewStdLogger(os.Stdout))
	_, err := g.Acquire(context.Background(), PriorityMedium)
	assert.NoError(t, err)
	assert.Equal(t, 1, g.Stats().RequestsInWindow)
}

func TestReset_ClearsWindowAndBackoff(t *testing.T) {
	ledger := new(MockGrantLedger)
	ledger.On("Load", mock.Anything, mock.Anything).Return([]time.Time{}, nil)
	ledger.On("Append", mock.Anything, mock.Anything).Return(nil)
	ledger.On("Clear", mock.Anything).Return(nil).Once()

	g := NewAdmissionGate(&conf.Gate{RequestsPerHour: 5, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 3},
		ledger, nil, log.NewStdLogger(os.Stdout))
	p, err := g.Acquire(context.Background(), PriorityMedium)
	require.NoError(t, err)
	p.Done(OutcomeRateLimited)
	require.Equal(t, 1.5, g.Stats().DelayMultiplier)

	g.Reset(context.Background())
	s := g.Stats()
	assert.Equal(t, 0, s.RequestsInWindow)
	assert.Equal(t, 1.0, s.DelayMultiplier)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	ledger.AssertExpectations(t)
}

func TestPermit_ResolvesOnce(t *testing.T) {
	g := newTestGate(&conf.Gate{RequestsPerHour: 5, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 3})
	p, err := g.Acquire(context.Background(), PriorityMedium)
	require.NoError(t, err)

	p.Cancel()
	p.Done(OutcomeRateLimited)
	assert.Equal(t, 1.0, g.Stats().DelayMultiplier)
}

func TestAcquire_FIFOWithinPriority(t *testing.T) {
	tests := []struct {
		name      string
		cancel    map[int]bool
		wantOrder []int
	}{
		{name: "arrival order", wantOrder: []int{0, 1, 2, 3}},
		{name: "cancelled waiter leaves the rest in order", cancel: map[int]bool{1: true}, wantOrder: []int{0, 2, 3}},
		{name: "head cancels", cancel: map[int]bool{0: true}, wantOrder: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: 40 * time.Millisecond, MaxMultiplier: 3})
			_, err := g.Acquire(context.Background(), PriorityMedium)
			require.NoError(t, err)

			var (
				mu      sync.Mutex
				order   []int
				wg      sync.WaitGroup
				cancels []context.CancelFunc
			)
			for i := 0; i < 4; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				cancels = append(cancels, cancel)
				wg.Add(1)
				go func(i int, ctx context.Context) {
					defer wg.Done()
					if _, err := g.Acquire(ctx, PriorityMedium); err != nil {
						assert.True(t, IsGateTimeout(err))
						return
					}
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				}(i, ctx)
				want := i + 1
				require.Eventually(t, func() bool { return g.Stats().Waiting == want }, time.Second, time.Millisecond)
			}
			for i := range cancels {
				if tt.cancel[i] {
					cancels[i]()
				}
			}
			wg.Wait()
			for _, cancel := range cancels {
				cancel()
			}

			assert.Equal(t, tt.wantOrder, order)
			assert.Equal(t, 0, g.Stats().Waiting)
		})
	}
}
