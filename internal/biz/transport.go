package biz

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TrendGate/internal/model"
)

// Transport performs one physical exchange. Connection-level failures are
// reported in RawResult.Err, never as a Go error return.
type Transport interface {
	Perform(ctx context.Context, ex *model.Exchange) *model.RawResult
}

// classify maps a raw result to an outcome. A 429 whose Retry-After is at
// least quotaAfter means the daily quota is gone rather than a short throttle.
func classify(raw *model.RawResult, quotaAfter time.Duration, now time.Time) Outcome {
	o := Outcome{StatusCode: raw.StatusCode, At: now, Err: raw.Err}
	if raw.Err != nil {
		o.Kind = OutcomeTransportFailure
		return o
	}
	if isInterstitial(raw.FinalURL) {
		o.Kind = OutcomeRateLimited
		o.IdentityBlocked = true
		return o
	}

	switch code := raw.StatusCode; {
	case code >= 200 && code < 400:
		o.Kind = OutcomeSuccess
	case code == http.StatusTooManyRequests:
		o.Kind = OutcomeRateLimited
		if d, ok := parseRetryAfter(raw.Header.Get("Retry-After"), now); ok {
			o.RetryAfter = d
			if quotaAfter > 0 && d >= quotaAfter {
				o.Kind = OutcomeQuotaExhausted
			}
		}
	case code == http.StatusForbidden:
		o.Kind = OutcomeOther4xx
		o.IdentityBlocked = true
	case code >= 400 && code < 500:
		o.Kind = OutcomeOther4xx
	default:
		o.Kind = OutcomeTransportFailure
	}
	return o
}

// isInterstitial reports a redirect onto the anti-bot challenge page.
func isInterstitial(finalURL string) bool {
	if finalURL == "" {
		return false
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/sorry/") || u.Path == "/sorry"
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
