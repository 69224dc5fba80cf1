package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createTestLogger 创建写入内存缓冲区的 LogHelper
func createTestLogger() (*LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		}),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	return NewLogHelper(NewKratosAdapter(zap.New(core))), buf
}

func TestLogHelper_Categories(t *testing.T) {
	tests := []struct {
		name     string
		log      func(h *LogHelper)
		wantType string
		level    string
	}{
		{"gate", func(h *LogHelper) { h.Gate("permit granted") }, "gate", "info"},
		{"gate warn", func(h *LogHelper) { h.GateWarn("quota reached") }, "gate", "warn"},
		{"breaker", func(h *LogHelper) { h.Breaker("opened") }, "breaker", "warn"},
		{"degradation", func(h *LogHelper) { h.Degradation("level changed") }, "degradation", "warn"},
		{"recovery", func(h *LogHelper) { h.Recovery("healthy") }, "recovery", "info"},
		{"identity", func(h *LogHelper) { h.Identity("profile selected") }, "identity", "info"},
		{"identity warn", func(h *LogHelper) { h.IdentityWarn("rotated") }, "identity", "warn"},
		{"warmup", func(h *LogHelper) { h.Warmup("step") }, "warmup", "debug"},
		{"storage", func(h *LogHelper) { h.Storage("saved") }, "storage", "debug"},
		{"scheduler", func(h *LogHelper) { h.Scheduler("tick") }, "scheduler", "info"},
		{"startup", func(h *LogHelper) { h.Startup("boot") }, "startup", "info"},
		{"tuning", func(h *LogHelper) { h.Tuning("sample") }, "tuning", "info"},
		{"success", func(h *LogHelper) { h.Success("done") }, "success", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper, buf := createTestLogger()
			tt.log(helper)

			out := buf.String()
			assert.Contains(t, out, `"type":"`+tt.wantType+`"`)
			assert.Contains(t, out, `"level":"`+tt.level+`"`)
		})
	}
}

func TestLogHelper_Request(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Request("GET", "https://trends.google.com/trends/", 429, 812)

	out := buf.String()
	assert.Contains(t, out, "GET https://trends.google.com/trends/ - 429 (812ms)")
	assert.Contains(t, out, `"status":429`)
	assert.Contains(t, out, `"duration_ms":812`)
}

func TestLogHelper_AttemptCarriesRequestContext(t *testing.T) {
	helper, buf := createTestLogger()
	ctx := WithRequestContext(context.Background(), "abc123def4", "https://example.com/x", "HIGH")

	helper.Attempt(ctx, 2, "rate_limited", "multiplier", 2.0)

	out := buf.String()
	assert.True(t, strings.Contains(out, "[abc123def4] attempt 2 -> rate_limited"))
	assert.Contains(t, out, `"priority":"HIGH"`)
	assert.Contains(t, out, `"endpoint":"https://example.com/x"`)
}

func TestLogHelper_SlowAcquireWithoutContext(t *testing.T) {
	helper, buf := createTestLogger()

	helper.SlowAcquire(context.Background(), 20000, 15000)

	assert.Contains(t, buf.String(), "[unknown] Slow permit acquisition")
}
