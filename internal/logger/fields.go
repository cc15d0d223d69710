package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldCycleID is the structured log field key for the allocation cycle run id.
	FieldCycleID = "cycle_id"
	// FieldTrigger is the structured log field key for what started a cycle.
	FieldTrigger = "trigger"
	// FieldPostingID is the structured log field key for a job posting id.
	FieldPostingID = "posting_id"
	// FieldApplicationID is the structured log field key for an application id.
	FieldApplicationID = "application_id"
	// FieldPhase is the structured log field key for a cycle phase name.
	FieldPhase = "phase"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CycleFields describes an allocation cycle run.
func CycleFields(cycleID, trigger string) []zap.Field {
	return StringFields(
		StringField{Key: FieldCycleID, Value: cycleID},
		StringField{Key: FieldTrigger, Value: trigger},
	)
}

// WithCycleFields attaches the cycle fields to the provided logger.
func WithCycleFields(logger *zap.Logger, cycleID, trigger string) *zap.Logger {
	return WithFields(logger, CycleFields(cycleID, trigger)...)
}

// PostingField returns the posting id field.
func PostingField(id int64) zap.Field {
	return zap.Int64(FieldPostingID, id)
}

// ApplicationFields describes an application and, when known, its posting.
// Non-positive ids are omitted.
func ApplicationFields(applicationID, postingID int64) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if applicationID > 0 {
		fields = append(fields, zap.Int64(FieldApplicationID, applicationID))
	}
	if postingID > 0 {
		fields = append(fields, PostingField(postingID))
	}
	return fields
}
