package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldOperationID identifies the batch operation a line belongs to.
	FieldOperationID = "operation_id"
	// FieldEntity is the entity (table) under reconciliation.
	FieldEntity = "entity"
	// FieldTargetField is the field whose source values are being reconciled.
	FieldTargetField = "target_field"
	// FieldSourceValue is the raw source value of the row being processed.
	FieldSourceValue = "source_value"
	// FieldEventType classifies a log line for filtering (e.g. candidate_rejected).
	FieldEventType = "event_type"
	// FieldErrorHint is a short operator-facing next step.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID carries the HTTP request identifier.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const (
	operationIDKey contextKey = iota
	entityKey
	targetFieldKey
	requestIDKey
)

// WithOperationID stores an operation identifier on the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// WithEntityField stores the entity and target field on the context.
func WithEntityField(ctx context.Context, entity, field string) context.Context {
	ctx = context.WithValue(ctx, entityKey, entity)
	return context.WithValue(ctx, targetFieldKey, field)
}

// WithRequestID stores an HTTP request identifier on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// OperationIDFromContext returns the operation identifier, if any.
func OperationIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, operationIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := stringFromContext(ctx, operationIDKey); ok {
		fields = append(fields, slog.String(FieldOperationID, id))
	}
	if entity, ok := stringFromContext(ctx, entityKey); ok {
		fields = append(fields, slog.String(FieldEntity, entity))
	}
	if field, ok := stringFromContext(ctx, targetFieldKey); ok {
		fields = append(fields, slog.String(FieldTargetField, field))
	}
	if rid, ok := stringFromContext(ctx, requestIDKey); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
