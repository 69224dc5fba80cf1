package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold 超过该耗时的 API 请求以 Warn 级别记录
const slowRequestThreshold = 2 * time.Minute

// Logging 返回一个记录 HTTP 请求日志的中间件
// 复用或生成 Request ID、注入 Request Context、回写 X-Request-ID
//
// 日志输出示例:
//
//	🟢 POST /v1/fetch - 200 (542ms) | RequestID: mgrn0zfqda
//	🟡 POST /v1/fetch - 429 (3ms) | RequestID: k2l9x0aa1b
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Kind().String()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
					requestID = httpReq.Header.Get("X-Request-ID")
				}
				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set("X-Request-ID", requestID)
			} else {
				requestID = pkglog.GenerateRequestID()
			}

			// 后续 executor 日志通过 Context 取到同一个 Request ID
			ctx = pkglog.WithRequestContext(ctx, requestID, path, "")

			reply, err := handler(ctx, req)

			elapsed := time.Since(startTime)
			status := extractHTTPStatus(err)
			kvs := []interface{}{"request_id", requestID, "ip", ip, "user_agent", userAgent}
			if err != nil {
				kvs = append(kvs, "reason", errors.Reason(err))
			}
			logger.Request(method, path, status, elapsed.Milliseconds(), kvs...)
			if elapsed >= slowRequestThreshold {
				logger.Warnw("msg", "Slow API request", "request_id", requestID, "path", path, "duration_ms", elapsed.Milliseconds(), "type", "slow_acquire")
			}

			return reply, err
		}
	}
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
