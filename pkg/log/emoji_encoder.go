package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap 日志类型 → 表情符号
var emojiMap = map[string]string{
	"gate":         "🚦",
	"breaker":      "⛔",
	"degradation":  "📉",
	"recovery":     "📈",
	"identity":     "🪪",
	"warmup":       "🔥",
	"storage":      "💾",
	"request":      "🌐",
	"attempt":      "🔁",
	"success":      "✅",
	"scheduler":    "🎯",
	"startup":      "🚀",
	"tuning":       "🎛️",
	"slow_acquire": "🐌",
}

// statusEmoji 根据 HTTP 状态码返回表情符号，429 单独标记
func statusEmoji(status int) string {
	switch {
	case status == 429:
		return "🧱"
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	}
	return "🟢"
}

// EmojiConsoleEncoder 包装 ConsoleEncoder，在消息前加表情符号
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry 优先级: status 字段 > type 字段 > 日志级别
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType string
	var status int64

	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	emoji := ""
	if status > 0 {
		emoji = statusEmoji(int(status))
	} else if e, ok := emojiMap[logType]; ok {
		emoji = e
	}

	if emoji == "" {
		switch entry.Level {
		case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			emoji = "❌"
		case zapcore.WarnLevel:
			emoji = "⚠️"
		case zapcore.InfoLevel:
			emoji = "ℹ️"
		case zapcore.DebugLevel:
			emoji = "🐛"
		}
	}

	entry.Message = emoji + " " + entry.Message
	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}
