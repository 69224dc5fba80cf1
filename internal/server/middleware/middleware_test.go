package middleware

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"testing"

	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headerCarrier nethttp.Header

func (hc headerCarrier) Get(key string) string      { return nethttp.Header(hc).Get(key) }
func (hc headerCarrier) Set(key, value string)      { nethttp.Header(hc).Set(key, value) }
func (hc headerCarrier) Add(key, value string)      { nethttp.Header(hc).Add(key, value) }
func (hc headerCarrier) Values(key string) []string { return nethttp.Header(hc).Values(key) }
func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc))
	for k := range hc {
		keys = append(keys, k)
	}
	return keys
}

// testTransport is a non-HTTP server transport.
type testTransport struct {
	operation string
	reqHeader headerCarrier
	reply     headerCarrier
}

func (tr *testTransport) Kind() transport.Kind            { return transport.KindGRPC }
func (tr *testTransport) Endpoint() string                { return "" }
func (tr *testTransport) Operation() string               { return tr.operation }
func (tr *testTransport) RequestHeader() transport.Header { return tr.reqHeader }
func (tr *testTransport) ReplyHeader() transport.Header   { return tr.reply }

func newTestTransport(op string) *testTransport {
	return &testTransport{operation: op, reqHeader: headerCarrier{}, reply: headerCarrier{}}
}

func testLogger() *pkglog.LogHelper {
	return pkglog.NewLogHelper(log.NewStdLogger(os.Stdout))
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestAdminAuth(t *testing.T) {
	const op = "/trendgate.v1.Gateway/Reset"

	t.Run("no token configured", func(t *testing.T) {
		h := AdminAuth("", testLogger(), op)(okHandler)
		ctx := transport.NewServerContext(context.Background(), newTestTransport(op))
		out, err := h(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("unguarded operation", func(t *testing.T) {
		h := AdminAuth("secret", testLogger(), op)(okHandler)
		ctx := transport.NewServerContext(context.Background(), newTestTransport("/trendgate.v1.Gateway/Stats"))
		_, err := h(ctx, nil)
		assert.NoError(t, err)
	})

	t.Run("guarded operation without credentials", func(t *testing.T) {
		h := AdminAuth("secret", testLogger(), op)(okHandler)
		ctx := transport.NewServerContext(context.Background(), newTestTransport(op))
		_, err := h(ctx, nil)
		require.Error(t, err)
		assert.True(t, errors.IsUnauthorized(err))
	})

	t.Run("no transport in context", func(t *testing.T) {
		h := AdminAuth("secret", testLogger(), op)(okHandler)
		_, err := h(context.Background(), nil)
		assert.NoError(t, err)
	})
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "(none)", maskToken(""))
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "abcd****", maskToken("abcdefgh"))
}

func TestLogging_SetsRequestContext(t *testing.T) {
	tr := newTestTransport("/trendgate.v1.Gateway/Stats")
	var seen string
	h := Logging(testLogger())(func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = pkglog.GetRequestID(ctx)
		return nil, nil
	})

	_, err := h(transport.NewServerContext(context.Background(), tr), nil)
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", seen)
	assert.Equal(t, seen, tr.reply.Get("X-Request-ID"))
}

func TestLogging_PassesErrorThrough(t *testing.T) {
	want := errors.New(429, "QUOTA_EXCEEDED", "slow down")
	h := Logging(testLogger())(func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, want
	})
	_, err := h(context.Background(), nil)
	assert.Equal(t, want, err)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(nethttp.MethodGet, "/v1/stats", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9:5555", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", extractClientIP(req))
}

func TestExtractHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, extractHTTPStatus(nil))
	assert.Equal(t, 401, extractHTTPStatus(errors.Unauthorized("UNAUTHORIZED", "x")))
	assert.Equal(t, 500, extractHTTPStatus(assert.AnError))
}
