package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldOperationID is the field name for operation ID.
	LogFieldOperationID = "operation_id"
	// LogFieldNamespace is the field name for the record namespace.
	LogFieldNamespace = "namespace"
	// LogFieldOperation is the field name for the operation name.
	LogFieldOperation = "operation"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
	// LogFieldFlushID is the field name for a cache flush correlation ID.
	LogFieldFlushID = "flush_id"
)

// NewLogger builds a slog logger writing text or JSON to w.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OperationContext represents one store/find/sweep operation with structured logging.
type OperationContext struct {
	OperationID string
	Namespace   string
	Operation   string
	StartTime   time.Time
	Logger      *slog.Logger
}

// NewOperationContext creates a new operation context with a generated operation ID.
func NewOperationContext(logger *slog.Logger, operation, namespace string) *OperationContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationContext{
		OperationID: uuid.New().String(),
		Namespace:   namespace,
		Operation:   operation,
		StartTime:   time.Now(),
		Logger:      logger,
	}
}

// Info logs an info message.
func (o *OperationContext) Info(msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, o.withBase(attrs...)...)
}

// Debug logs a debug message.
func (o *OperationContext) Debug(msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, o.withBase(attrs...)...)
}

// Warn logs a warning message.
func (o *OperationContext) Warn(msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, o.withBase(attrs...)...)
}

// Error logs an error message with the error.
func (o *OperationContext) Error(msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	o.Logger.LogAttrs(context.Background(), slog.LevelError, msg, o.withBase(attrs...)...)
}

// Duration returns the elapsed time since the operation started.
func (o *OperationContext) Duration() time.Duration {
	return time.Since(o.StartTime)
}

// DurationAttr returns the elapsed time as a log attribute.
func (o *OperationContext) DurationAttr() slog.Attr {
	return slog.Int64(LogFieldDuration, o.Duration().Milliseconds())
}

func (o *OperationContext) withBase(attrs ...slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldOperationID, o.OperationID),
		slog.String(LogFieldOperation, o.Operation),
		slog.String(LogFieldNamespace, o.Namespace),
	}
	return append(base, attrs...)
}

type ctxKey struct{}

// WithOperationContext adds the operation context to the context.
func WithOperationContext(ctx context.Context, op *OperationContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, op)
}

// FromContext extracts the operation context from the context.
func FromContext(ctx context.Context) (*OperationContext, bool) {
	op, ok := ctx.Value(ctxKey{}).(*OperationContext)
	return op, ok
}
