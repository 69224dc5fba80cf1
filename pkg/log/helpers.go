package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper
// 每个方法附带 "type" 字段，EmojiConsoleEncoder 据此选择表情符号
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{Helper: log.NewHelper(logger)}
}

func typed(logType, msg string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// Gate 记录准入闸门日志（🚦），节奏调整属于预期行为，使用 Info
func (h *LogHelper) Gate(msg string, kvs ...interface{}) {
	h.Infow(typed("gate", msg, kvs)...)
}

// GateWarn 记录闸门退避/配额告警（🚦）
func (h *LogHelper) GateWarn(msg string, kvs ...interface{}) {
	h.Warnw(typed("gate", msg, kvs)...)
}

// Breaker 记录熔断器状态变化（⛔）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(typed("breaker", msg, kvs)...)
}

// Degradation 记录降级级别变化（📉）
func (h *LogHelper) Degradation(msg string, kvs ...interface{}) {
	h.Warnw(typed("degradation", msg, kvs)...)
}

// Recovery 记录降级恢复（📈）
func (h *LogHelper) Recovery(msg string, kvs ...interface{}) {
	h.Infow(typed("recovery", msg, kvs)...)
}

// Identity 记录会话与指纹相关日志（🪪）
func (h *LogHelper) Identity(msg string, kvs ...interface{}) {
	h.Infow(typed("identity", msg, kvs)...)
}

// IdentityWarn 记录身份轮换、会话损坏等可恢复事件（🪪）
func (h *LogHelper) IdentityWarn(msg string, kvs ...interface{}) {
	h.Warnw(typed("identity", msg, kvs)...)
}

// Warmup 记录预热步骤（🔥）
func (h *LogHelper) Warmup(msg string, kvs ...interface{}) {
	h.Debugw(typed("warmup", msg, kvs)...)
}

// Storage 记录会话存储读写（💾）
func (h *LogHelper) Storage(msg string, kvs ...interface{}) {
	h.Debugw(typed("storage", msg, kvs)...)
}

// Success 记录成功操作日志（✅）
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(typed("success", msg, kvs)...)
}

// Scheduler 记录定时任务日志（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed("scheduler", msg, kvs)...)
}

// Tuning 记录配置调优建议（🎛️）
func (h *LogHelper) Tuning(msg string, kvs ...interface{}) {
	h.Infow(typed("tuning", msg, kvs)...)
}

// Startup 记录启动相关日志（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed("startup", msg, kvs)...)
}

// Request 记录一次上游交换（状态码决定表情符号）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	kvs = append(kvs, "method", method, "url", url, "status", status, "duration_ms", durationMs)
	h.Debugw(typed("request", msg, kvs)...)
}

// ========== Context-Aware 日志方法 ==========

// Attempt 记录带 Request ID 的单次尝试结果（🔁）
func (h *LogHelper) Attempt(ctx context.Context, attempt int, outcome string, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] attempt %d -> %s", reqCtx.RequestID, attempt, outcome)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"endpoint", reqCtx.Endpoint,
		"priority", reqCtx.Priority,
		"attempt", attempt,
		"outcome", outcome,
	)
	h.Infow(typed("attempt", msg, kvs)...)
}

// SlowAcquire 记录等待许可过久（🐌）
func (h *LogHelper) SlowAcquire(ctx context.Context, waitedMs, thresholdMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Slow permit acquisition | %dms (threshold: %dms)", reqCtx.RequestID, waitedMs, thresholdMs)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"priority", reqCtx.Priority,
		"waited_ms", waitedMs,
		"threshold_ms", thresholdMs,
	)
	h.Infow(typed("slow_acquire", msg, kvs)...)
}
