package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const requestContextKey contextKey = "trendgate_request_context"

// RequestContext 记录一次 fetch 调用的追踪信息，随 Context 传递到 executor
type RequestContext struct {
	RequestID string    // 10 位短 ID，如 mgrn0zfqda
	Endpoint  string    // 上游地址
	Priority  string    // HIGH / MEDIUM / LOW
	StartTime time.Time
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMutex   sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID 生成 10 位 base36 随机请求 ID
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext 将 RequestContext 注入到 Context 中
func WithRequestContext(ctx context.Context, requestID, endpoint, priority string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		Endpoint:  endpoint,
		Priority:  priority,
		StartTime: time.Now(),
	})
}

// GetRequestContext 从 Context 中提取 RequestContext，不存在时返回占位值
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID 从 Context 中提取 Request ID
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
