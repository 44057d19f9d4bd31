// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := CollectionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("collection.id", id))
	}

	if chatID := ChatIDFromContext(ctx); chatID != "" {
		fields = append(fields, zap.String("chat.id", chatID))
	}

	if op := OperationFromContext(ctx); op != "" {
		fields = append(fields, zap.String("operation", op))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type collectionCtxKey struct{}
type chatCtxKey struct{}
type operationCtxKey struct{}
type requestCtxKey struct{}

// Validation constants
const (
	maxLabelLen = 256
	maxIDLen    = 128
)

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// sanitizeLabel bounds a free-form identifier such as a chat or
// collection id. Host chat names may contain spaces and punctuation, so
// only invalid UTF-8 and excess length are corrected.
func sanitizeLabel(label string) string {
	label = strings.ToValidUTF8(label, "\uFFFD")
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
		for !utf8.ValidString(label) {
			label = label[:len(label)-1]
		}
	}
	return label
}

// validateID validates a request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// CollectionIDFromContext extracts the collection id from context.
func CollectionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(collectionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithCollectionID adds a collection id to context.
// Panics if id is empty.
func WithCollectionID(ctx context.Context, id string) context.Context {
	if id == "" {
		panic("logging: collectionID cannot be empty")
	}
	return context.WithValue(ctx, collectionCtxKey{}, sanitizeLabel(id))
}

// ChatIDFromContext extracts the host chat id from context.
func ChatIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(chatCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithChatID adds the host chat id to context.
// Panics if chatID is empty.
func WithChatID(ctx context.Context, chatID string) context.Context {
	if chatID == "" {
		panic("logging: chatID cannot be empty")
	}
	return context.WithValue(ctx, chatCtxKey{}, sanitizeLabel(chatID))
}

// OperationFromContext extracts the operation name from context.
func OperationFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(operationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithOperation names the operation being logged.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}
