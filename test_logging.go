//go:build ignore
// +build ignore

package main

import (
	"context"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"
)

func main() {
	// 创建日志配置
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console", // 使用 console 格式以启用 Emoji Encoder
		Env:    "development",
	}

	// 创建 Zap logger
	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	// 创建 Kratos adapter
	kratosLogger := pkglog.NewKratosAdapter(zapLogger)

	// 创建 LogHelper
	helper := pkglog.NewLogHelper(kratosLogger)

	// 测试各种日志类型
	println("=== 测试日志输出格式 ===\n")

	helper.Startup("TrendGate service starting", "version", "1.0.0", "port", 8080)
	helper.Gate("Permit granted", "priority", "HIGH", "waited_ms", 0, "utilization_pct", 12.5)
	helper.GateWarn("Backoff escalated", "delay_multiplier", 2.0)
	helper.Breaker("Circuit opened", "failures", 10, "cool_down", "5m0s")
	helper.Degradation("Degradation level raised", "from", "healthy", "to", "degraded_minor")
	helper.Recovery("Degradation level lowered", "from", "degraded_minor", "to", "healthy")
	helper.Identity("Session created", "profile", "chrome131_macos")
	helper.IdentityWarn("Identity rotated", "reason", "forbidden")
	helper.Warmup("Warmup step", "url", "https://trends.google.com/trends/")
	helper.Storage("Session saved", "driver", "file")
	helper.Scheduler("Session checkpoint cron job started", "spec", "0 */5 * * * *")
	helper.Request("POST", "/v1/fetch", 200, 542, "ip", "192.168.1.100")
	helper.Request("POST", "/v1/fetch", 429, 3, "reason", "QUOTA_EXCEEDED")
	helper.Success("Request completed", "request_id", "req-789")

	// 测试 Context 方法
	ctx := pkglog.WithRequestContext(context.Background(), pkglog.GenerateRequestID(), "/trends/api/explore", "HIGH")
	helper.Attempt(ctx, 1, "rate_limited", "status", 429)
	helper.SlowAcquire(ctx, 65000, 60000)

	println("\n=== 日志输出完成 ===")
}
