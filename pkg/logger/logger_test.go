package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 把全局 Log 换成写 buffer 的 core
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(buffer),
		zap.DebugLevel,
	)
	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-12345")
	ctx = context.WithValue(ctx, RequestIdKey, "req-1")

	Info(ctx, "breaker opened", zap.String("name", "yahoo"), zap.Int("failures", 5))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "breaker opened", entry["msg"])
	assert.Equal(t, "yahoo", entry["name"])
	assert.Equal(t, float64(5), entry["failures"])
	assert.Equal(t, "trace-12345", entry["trace_id"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestLogger_Warn_NoTraceID(t *testing.T) {
	buffer := captureLog(t)

	Warn(context.Background(), "tick dropped", zap.String("reason", "unmapped"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "warn", entry["level"])
}

func TestLogger_NilContext(t *testing.T) {
	buffer := captureLog(t)

	//nolint:staticcheck // nil ctx 要能容忍
	Debug(nil, "no ctx")
	assert.Contains(t, buffer.String(), "no ctx")
}

func TestLogger_TraceIDFromSpanContext(t *testing.T) {
	buffer := captureLog(t)

	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid,
		SpanID:  sid,
	}))

	Warn(ctx, "refresh failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
}
