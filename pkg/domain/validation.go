package domain

// ValidationError is a field-scoped business-rule failure.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates the outcome of one validator call. Results are
// values, never errors: the repository returns every failure at once so a
// caller can render multi-field errors without exception-driven control flow.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidResult returns a passing result.
func ValidResult() ValidationResult { return ValidationResult{Valid: true} }

// Invalid builds a failing result from the given errors.
func Invalid(errs ...ValidationError) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// AddError appends a failure and marks the result invalid.
func (r *ValidationResult) AddError(field, code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Code: code, Message: message})
}

// Validator is the external business-rule contract, implemented per entity
// kind outside the core and consumed by the repository facade. A validator
// may veto deletes (for example a closed-won deal must not be removed).
type Validator[T any] interface {
	ValidateCreate(data T) ValidationResult
	ValidateUpdate(id string, updated T, existing T) ValidationResult
	ValidateDelete(id string, existing T) ValidationResult
}
