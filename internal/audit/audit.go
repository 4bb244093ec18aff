// Package audit emits the escrow operation trail as structured log events.
package audit

import (
	"context"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger adapts a zap logger to the escrow operation log. Every event gets a
// unique identifier so downstream collectors can deduplicate shipped batches.
type Logger struct {
	logger *zap.Logger
}

// NewLogger wraps the supplied zap logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation implements escrow.OperationLogger.
func (auditLogger *Logger) LogOperation(_ context.Context, entry escrow.OperationLog) {
	fields := []zap.Field{
		zap.String("event_id", uuid.NewString()),
		zap.String("operation", entry.Operation),
		zap.String("actor", entry.Actor.String()),
		zap.String("status", entry.Status),
	}
	if entry.ClassID != 0 {
		fields = append(fields, zap.Int64("class_id", entry.ClassID.Int64()))
	}
	if entry.HotelID != 0 {
		fields = append(fields, zap.Int64("hotel_id", entry.HotelID.Int64()))
	}
	if entry.BookingID != 0 {
		fields = append(fields, zap.Int64("booking_id", entry.BookingID.Int64()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Metadata.String() != "" {
		fields = append(fields, zap.String("metadata", entry.Metadata.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		auditLogger.logger.Warn("escrow operation failed", fields...)
		return
	}
	auditLogger.logger.Info("escrow operation", fields...)
}
