package biz

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Priority orders work under degradation. Higher values win.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority accepts HIGH/MEDIUM/LOW in any case. Empty means MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, nil
	case "", "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// OutcomeKind is the classification of one upstream exchange.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	// OutcomeQuotaExhausted is a rate limit whose advertised reset is too far
	// away to be worth retrying inside one Execute call.
	OutcomeQuotaExhausted
	OutcomeTransportFailure
	OutcomeOther4xx
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeOther4xx:
		return "other_4xx"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// IsRateLimit is true for both flavours of upstream throttling.
func (k OutcomeKind) IsRateLimit() bool {
	return k == OutcomeRateLimited || k == OutcomeQuotaExhausted
}

// Outcome is a classified exchange result.
type Outcome struct {
	Kind            OutcomeKind
	StatusCode      int
	At              time.Time
	RetryAfter      time.Duration
	IdentityBlocked bool
	Err             error
}

// RequestSpec describes one logical fetch.
type RequestSpec struct {
	Endpoint   string
	Params     url.Values
	Priority   Priority
	MaxRetries int // 0 uses the executor default, <0 disables retries
}

// URL renders Endpoint with Params merged into its query string.
func (s RequestSpec) URL() (string, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	if len(s.Params) > 0 {
		q := u.Query()
		for k, vs := range s.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Skip reports a deliberate non-execution caused by degradation policy.
type Skip struct {
	Priority Priority
	Level    Level
}

// Response is the result of Execute. Exactly one of Skip or the HTTP fields is meaningful.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
	ProfileID  string
	Attempts   int
	Duration   time.Duration
	Skip       *Skip
}

// Skipped reports whether the request was not executed due to degradation.
func (r *Response) Skipped() bool {
	return r != nil && r.Skip != nil
}
