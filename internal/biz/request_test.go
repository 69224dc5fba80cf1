package biz

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		err  bool
	}{
		{"", PriorityMedium, false},
		{"low", PriorityLow, false},
		{"HIGH", PriorityHigh, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		p, err := ParsePriority(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, p)
	}
}

func TestRequestSpec_URL(t *testing.T) {
	spec := RequestSpec{
		Endpoint: "https://trends.google.com/trends/api/explore?hl=en-US",
		Params:   url.Values{"tz": {"360"}},
	}
	got, err := spec.URL()
	require.NoError(t, err)
	u, _ := url.Parse(got)
	assert.Equal(t, "en-US", u.Query().Get("hl"))
	assert.Equal(t, "360", u.Query().Get("tz"))

	for _, bad := range []string{"ftp://host/x", "/relative", "://broken"} {
		_, err := RequestSpec{Endpoint: bad}.URL()
		assert.Error(t, err, bad)
	}
}

func TestOutcomeKind_IsRateLimit(t *testing.T) {
	assert.True(t, OutcomeRateLimited.IsRateLimit())
	assert.True(t, OutcomeQuotaExhausted.IsRateLimit())
	assert.False(t, OutcomeTransportFailure.IsRateLimit())
	assert.False(t, OutcomeOther4xx.IsRateLimit())
	assert.False(t, OutcomeSuccess.IsRateLimit())
}

func TestErrors_Classification(t *testing.T) {
	qe := newQuotaExceededError(90*time.Second, map[string]string{"stage": "window"})
	assert.True(t, IsQuotaExceeded(qe))
	assert.False(t, IsCircuitOpen(qe))
	wait, ok := SuggestedWait(qe)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, wait)
	assert.Equal(t, "window", qe.Metadata["stage"])
	assert.Equal(t, int32(429), qe.Code)

	co := newCircuitOpenError(time.Minute, 10)
	assert.True(t, IsCircuitOpen(co))
	assert.Equal(t, "10", co.Metadata["consecutive_failures"])

	cause := errors.New("connection reset")
	tf := newTransportFailureError(4, cause)
	assert.True(t, IsTransportFailure(tf))
	assert.ErrorIs(t, tf, cause)
	_, ok = SuggestedWait(tf)
	assert.False(t, ok)

	gt := newGateTimeoutError("acquire", time.Second, context.DeadlineExceeded)
	assert.True(t, IsGateTimeout(gt))
	assert.Equal(t, "acquire", gt.Metadata["stage"])

	ur := newUpstreamRejectedError(Outcome{Kind: OutcomeOther4xx, StatusCode: 403, IdentityBlocked: true})
	assert.True(t, IsUpstreamRejected(ur))
	assert.Equal(t, "true", ur.Metadata["identity_blocked"])

	assert.False(t, IsQuotaExceeded(errors.New("plain")))
}
