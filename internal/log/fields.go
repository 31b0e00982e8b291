package log

import "time"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldOperation    = "operation"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldDuration     = "duration_ms"
	FieldSubjectID    = "subject_id"
	FieldObligationID = "obligation_id"
	FieldBudgetID     = "budget_id"
	FieldDebtID       = "debt_id"
	FieldAlertID      = "alert_id"
	FieldAlertType    = "alert_type"
	FieldAsOf         = "as_of"
	FieldJob          = "job"
	FieldCount        = "count"
	FieldReason       = "reason"
	FieldRoutingKey   = "routing_key"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentCLI       = "cli"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentScheduler = "scheduler"
	ComponentRollover  = "rollover"
	ComponentAlerts    = "alerts"
	ComponentForecast  = "forecast"
	ComponentPayoff    = "payoff"
)

// Operations defines standard operation names
const (
	OpProcessDue = "process_due"
	OpRollover   = "rollover"
	OpEvaluate   = "evaluate_alerts"
	OpForecast   = "forecast"
	OpPayoff     = "payoff"
	OpPublish    = "publish"
	OpMigrate    = "migrate"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeClockSkew     = "clock_skew"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithSubject(subjectID string) LogFields {
	f[FieldSubjectID] = subjectID
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

func (f LogFields) WithAsOf(t time.Time) LogFields {
	f[FieldAsOf] = t.Format(time.RFC3339)
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

func (f LogFields) WithCount(n int) LogFields {
	f[FieldCount] = n
	return f
}

// ToSlice converts LogFields to key/value pairs for slog.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
