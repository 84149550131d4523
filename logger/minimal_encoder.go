package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Muted ANSI palette for console output. Calm over loud: level markers
// only get color when they demand attention.
const (
	colorReset  = "\x1b[0m"
	colorDim    = "\x1b[2m"
	colorYellow = "\x1b[38;5;214m"
	colorRed    = "\x1b[38;5;167m"
	colorGreen  = "\x1b[38;5;108m"
)

// newMinimalEncoder returns a console encoder with compact timestamps
// and quiet level markers. Structured fields render as trailing
// key=value pairs after the message.
func newMinimalEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "", // stack traces belong in error details, not console lines
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeMinimalLevel,
		EncodeTime:     encodeMinimalTime,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     encodeMinimalName,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func encodeMinimalTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(colorDim + t.Format("15:04:05") + colorReset)
}

func encodeMinimalLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString(colorDim + "dbg" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "inf" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "wrn" + colorReset)
	default:
		enc.AppendString(colorRed + fmt.Sprintf("%-3s", l.CapitalString()[:3]) + colorReset)
	}
}

func encodeMinimalName(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(colorDim + name + colorReset)
}
