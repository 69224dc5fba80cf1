package biz

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons surfaced by Execute.
const (
	ReasonQuotaExceeded    = "QUOTA_EXCEEDED"
	ReasonCircuitOpen      = "CIRCUIT_OPEN"
	ReasonTransportFailure = "TRANSPORT_FAILURE"
	ReasonGateTimeout      = "GATE_TIMEOUT"
	ReasonUpstreamRejected = "UPSTREAM_REJECTED"
	ReasonInvalidRequest   = "INVALID_REQUEST"
)

const metaRetryAfter = "retry_after_ms"

// newQuotaExceededError is returned when the window or backoff is exhausted.
// The message carries the suggested wait so callers can log it as is.
func newQuotaExceededError(wait time.Duration, kvs map[string]string) *errors.Error {
	md := map[string]string{metaRetryAfter: strconv.FormatInt(wait.Milliseconds(), 10)}
	for k, v := range kvs {
		md[k] = v
	}
	return errors.New(429, ReasonQuotaExceeded,
		fmt.Sprintf("upstream quota exceeded, retry after %s", wait.Round(time.Second))).
		WithMetadata(md)
}

func newCircuitOpenError(wait time.Duration, failures int) *errors.Error {
	return errors.New(503, ReasonCircuitOpen,
		fmt.Sprintf("circuit open after %d consecutive failures, retry after %s", failures, wait.Round(time.Second))).
		WithMetadata(map[string]string{
			metaRetryAfter:         strconv.FormatInt(wait.Milliseconds(), 10),
			"consecutive_failures": strconv.Itoa(failures),
		})
}

func newTransportFailureError(attempts int, cause error) *errors.Error {
	md := map[string]string{"attempts": strconv.Itoa(attempts)}
	msg := fmt.Sprintf("transport failure after %d attempts", attempts)
	if cause != nil {
		md["cause"] = cause.Error()
		msg += ": " + cause.Error()
	}
	e := errors.New(502, ReasonTransportFailure, msg).WithMetadata(md)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

func newGateTimeoutError(stage string, waited time.Duration, cause error) *errors.Error {
	return errors.New(504, ReasonGateTimeout,
		fmt.Sprintf("deadline exceeded during %s after %s", stage, waited.Round(time.Millisecond))).
		WithMetadata(map[string]string{
			"stage":     stage,
			"waited_ms": strconv.FormatInt(waited.Milliseconds(), 10),
		}).
		WithCause(cause)
}

func newUpstreamRejectedError(o Outcome) *errors.Error {
	return errors.New(502, ReasonUpstreamRejected,
		fmt.Sprintf("upstream rejected request with status %d", o.StatusCode)).
		WithMetadata(map[string]string{
			"status":           strconv.Itoa(o.StatusCode),
			"outcome":          o.Kind.String(),
			"identity_blocked": strconv.FormatBool(o.IdentityBlocked),
		})
}

func newInvalidRequestError(format string, args ...interface{}) *errors.Error {
	return errors.BadRequest(ReasonInvalidRequest, fmt.Sprintf(format, args...))
}

// IsQuotaExceeded reports whether err is a QuotaExceeded error.
func IsQuotaExceeded(err error) bool { return errors.Reason(err) == ReasonQuotaExceeded }

// IsCircuitOpen reports whether err is a CircuitOpen error.
func IsCircuitOpen(err error) bool { return errors.Reason(err) == ReasonCircuitOpen }

// IsTransportFailure reports whether err is a TransportFailure error.
func IsTransportFailure(err error) bool { return errors.Reason(err) == ReasonTransportFailure }

// IsGateTimeout reports whether err is a GateTimeout error.
func IsGateTimeout(err error) bool { return errors.Reason(err) == ReasonGateTimeout }

// IsUpstreamRejected reports whether err is an UpstreamRejected error.
func IsUpstreamRejected(err error) bool { return errors.Reason(err) == ReasonUpstreamRejected }

// SuggestedWait extracts the retry hint from QuotaExceeded or CircuitOpen errors.
func SuggestedWait(err error) (time.Duration, bool) {
	e := errors.FromError(err)
	if e == nil || e.Metadata == nil {
		return 0, false
	}
	raw, ok := e.Metadata[metaRetryAfter]
	if !ok {
		return 0, false
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
