// Package middleware provides HTTP middleware for admin authentication and request logging.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AdminAuth 保护管理类操作（如 /v1/reset）
// token 为空时不做校验；否则要求 "Authorization: Bearer {token}" 或 X-Admin-Token
//
// 日志输出示例:
//
//	🔗 Rejected admin request | POST /v1/reset | token: abcd****
func AdminAuth(token string, logger *pkglog.LogHelper, operations ...string) middleware.Middleware {
	guarded := make(map[string]bool, len(operations))
	for _, op := range operations {
		guarded[op] = true
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if token == "" {
				return handler(ctx, req)
			}
			tr, ok := transport.FromServerContext(ctx)
			if !ok || !guarded[tr.Operation()] {
				return handler(ctx, req)
			}

			var presented string
			if ht, ok := tr.(http.Transporter); ok {
				r := ht.Request()
				// 支持 "Bearer {token}" 格式
				presented = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
				if presented == "" {
					presented = r.Header.Get("X-Admin-Token")
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warnw(
					"msg", "Rejected admin request",
					"operation", tr.Operation(),
					"token", maskToken(presented),
					"type", "auth",
				)
				return nil, errors.Unauthorized("UNAUTHORIZED", "admin token required")
			}
			return handler(ctx, req)
		}
	}
}

// maskToken 脱敏 token，仅显示前 4 位
func maskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 4 {
		return strings.Repeat("*", len(t))
	}
	return t[:4] + "****"
}
