package guildconfig

import (
	"errors"
	"fmt"
)

// ErrorCode classifies config engine errors for logging and metrics labels.
type ErrorCode string

const (
	// CodeValidation indicates user input that failed parse or verification.
	CodeValidation ErrorCode = "validation"

	// CodeUnknownVariable indicates an update named a variable outside the schema.
	CodeUnknownVariable ErrorCode = "unknown_variable"

	// CodeResolution indicates a stored value that no longer resolves against the scope.
	CodeResolution ErrorCode = "resolution"

	// CodeSchema indicates an invalid schema definition.
	CodeSchema ErrorCode = "schema"

	// CodeInternal covers everything else, store failures included.
	CodeInternal ErrorCode = "internal"
)

var (
	// ErrValidation matches every user-facing validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownVariable matches updates naming a variable that is not in the schema.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrDeleted is returned by operations on a Config after Delete.
	ErrDeleted = errors.New("config has been deleted")

	// ErrNoStore is returned by Spawn when the factory has no record store.
	ErrNoStore = errors.New("no record store configured")
)

// ValidationError is a user-facing validation failure. Message is shown to
// the administrator as-is.
type ValidationError struct {
	Variable string
	Message  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationf(variable, format string, args ...any) *ValidationError {
	return &ValidationError{Variable: variable, Message: fmt.Sprintf(format, args...)}
}

// UnknownVariableError is returned when an update batch names a variable
// that the schema does not define.
type UnknownVariableError struct {
	Schema   string
	Variable string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q for config %s", e.Variable, e.Schema)
}

// Is reports whether target is ErrValidation or ErrUnknownVariable.
func (e *UnknownVariableError) Is(target error) bool {
	return target == ErrValidation || target == ErrUnknownVariable
}

// ResolutionError reports a stored value that could not be turned back into
// a live value. Spawn never returns it; it is logged and the variable falls
// back to its default.
type ResolutionError struct {
	Variable string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve variable %s: %v", e.Variable, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func resolutionf(variable, format string, args ...any) *ResolutionError {
	return &ResolutionError{Variable: variable, Err: fmt.Errorf(format, args...)}
}

// SchemaError reports a schema that cannot be constructed.
type SchemaError struct {
	Schema   string
	Variable string
	Message  string
}

func (e *SchemaError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("config schema %s: variable %s: %s", e.Schema, e.Variable, e.Message)
	}
	return fmt.Sprintf("config schema %s: %s", e.Schema, e.Message)
}

// IsValidation reports whether err is a user-facing validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// UserMessage returns the message to show an administrator for a validation
// failure. ok is false for any other error.
func UserMessage(err error) (msg string, ok bool) {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message, true
	}
	var unknownErr *UnknownVariableError
	if errors.As(err, &unknownErr) {
		return fmt.Sprintf("Unknown variable '%s'.", unknownErr.Variable), true
	}
	return "", false
}

// GetErrorCode classifies err, returning CodeInternal for unknown errors.
func GetErrorCode(err error) ErrorCode {
	var (
		unknownErr *UnknownVariableError
		resErr     *ResolutionError
		schemaErr  *SchemaError
	)
	switch {
	case errors.As(err, &unknownErr):
		return CodeUnknownVariable
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.As(err, &resErr):
		return CodeResolution
	case errors.As(err, &schemaErr):
		return CodeSchema
	default:
		return CodeInternal
	}
}
