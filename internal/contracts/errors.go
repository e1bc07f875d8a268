package contracts

// ValidationError reports the first invariant violated while validating an
// inbound or outbound contract. Validation is fail-fast: callers get exactly
// one field/reason pair, not an aggregate.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// newValidationError builds a *ValidationError as an error value.
func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
