package logging

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewLogger_Levels(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = Level(zapcore.WarnLevel)

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer logger.Close()

	assert.False(t, logger.Enabled(TraceLevel))
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithChatID(context.Background(), "c1")
	ctx = WithCollectionID(ctx, "recalld_chat_c1")
	ctx = WithOperation(ctx, "sync")

	tl.Info(ctx, "synchronization batch done", zap.Int("inserted", 5))

	tl.AssertLogged(t, zapcore.InfoLevel, "batch done")
	tl.AssertField(t, "batch done", "chat.id", "c1")
	tl.AssertField(t, "batch done", "collection.id", "recalld_chat_c1")
	tl.AssertField(t, "batch done", "operation", "sync")
	tl.AssertField(t, "batch done", "inserted", 5)
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tp := trace.NewTracerProvider(trace.WithSyncer(tracetest.NewInMemoryExporter()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "retrieve")
	defer span.End()

	tl := NewTestLogger()
	tl.Debug(ctx, "memories injected")

	entries := tl.Entries("memories injected")
	require.Len(t, entries, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), entries[0].ContextMap()["trace_id"])
}

func TestLogger_AllLevels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Info(ctx, "i")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	tl.AssertLogged(t, TraceLevel, "t")
	tl.AssertLogged(t, zapcore.DebugLevel, "d")
	tl.AssertLogged(t, zapcore.InfoLevel, "i")
	tl.AssertLogged(t, zapcore.WarnLevel, "w")
	tl.AssertLogged(t, zapcore.ErrorLevel, "e")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "i")
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("vectorsync").With(zap.String("backend", "qdrant"))

	child.Warn(context.Background(), "deleting stale hashes failed")

	entries := tl.Entries("stale hashes")
	require.Len(t, entries, 1)
	assert.Equal(t, "vectorsync", entries[0].LoggerName)
	assert.Equal(t, "qdrant", entries[0].ContextMap()["backend"])
}

func TestTestLogger_AssertNoSecrets(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "starting",
		Secret("server.api_key", "s3cret"),
		zap.String("backend", "chroma"),
	)

	rec := &failRecorder{TB: t}
	tl.AssertNoSecrets(rec)
	assert.Empty(t, rec.failures)

	tl.Info(context.Background(), "leak", zap.String("embeddings.openai.api_key", "sk-live"))
	tl.AssertNoSecrets(rec)
	require.Len(t, rec.failures, 1)
	assert.Contains(t, rec.failures[0], "embeddings.openai.api_key")
}

func TestTestLogger_AssertFieldMismatch(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "retrieval failed", zap.String("collection.id", "recalld_chat_c1"))

	rec := &failRecorder{TB: t}
	tl.AssertField(rec, "retrieval failed", "collection.id", "recalld_chat_c2")
	tl.AssertLogged(rec, zapcore.WarnLevel, "retrieval failed")
	assert.Len(t, rec.failures, 2)
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error(context.Background(), "dropped")
	assert.False(t, logger.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, logger.Close())
}

// failRecorder collects failures instead of failing the running test.
type failRecorder struct {
	testing.TB
	failures []string
}

func (r *failRecorder) Helper() {}

func (r *failRecorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}
