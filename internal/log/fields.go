package log

// Common field names for structured logging
const (
	FieldComponent         = "component"
	FieldRequestID         = "request_id"
	FieldSessionID         = "session_id"
	FieldMethod            = "method"
	FieldPath              = "path"
	FieldStatusCode        = "status_code"
	FieldDuration          = "duration_ms"
	FieldError             = "error"
	FieldOperation         = "operation"
	FieldToken             = "token"
	FieldExpenseID         = "expense_id"
	FieldExpenseDesc       = "expense_description"
	FieldAmountCents       = "amount_cents"
	FieldPrimaryCategory   = "primary_category"
	FieldSecondaryCategory = "secondary_category"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentExpense = "expense"
	ComponentUndo    = "undo"
	ComponentSession = "session"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpList     = "list"
	OpDelete   = "delete"
	OpUndo     = "undo"
	OpDismiss  = "dismiss"
	OpFinalize = "finalize"
	OpPurge    = "purge"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(id int64, desc string, amountCents int64, primary, secondary string) LogFields {
	f[FieldExpenseID] = id
	f[FieldExpenseDesc] = desc
	f[FieldAmountCents] = amountCents
	f[FieldPrimaryCategory] = primary
	f[FieldSecondaryCategory] = secondary
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
