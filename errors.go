package tabula

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes
const (
	ErrCodeUndefinedEntity            = "UNDEFINED_ENTITY"
	ErrCodeUnknownField               = "UNKNOWN_FIELD"
	ErrCodeTypeMismatch               = "TYPE_MISMATCH"
	ErrCodeConversionError            = "CONVERSION_ERROR"
	ErrCodeUnbalancedGroup            = "UNBALANCED_GROUP"
	ErrCodeUnclosedGroup              = "UNCLOSED_GROUP"
	ErrCodeUnsupportedOnDynamicEntity = "UNSUPPORTED_ON_DYNAMIC_ENTITY"
	ErrCodeNotInitialized             = "NOT_INITIALIZED"
	ErrCodeConnectionLost             = "CONNECTION_LOST"
	ErrCodeStatementFailed            = "STATEMENT_FAILED"
	ErrCodeReconciliationFailed       = "RECONCILIATION_FAILED"
	ErrCodeAlreadyRegistered          = "ALREADY_REGISTERED"
	ErrCodeInvalidDefinition          = "INVALID_DEFINITION"
	ErrCodeInvalidQuery               = "INVALID_QUERY"
)

// Sentinels usable with errors.Is. Matching is done on Code only.
var (
	ErrUndefinedEntity            = &Error{Type: ErrorTypeValidation, Code: ErrCodeUndefinedEntity}
	ErrUnknownField               = &Error{Type: ErrorTypeValidation, Code: ErrCodeUnknownField}
	ErrTypeMismatch               = &Error{Type: ErrorTypeValidation, Code: ErrCodeTypeMismatch}
	ErrConversion                 = &Error{Type: ErrorTypeValidation, Code: ErrCodeConversionError}
	ErrUnbalancedGroup            = &Error{Type: ErrorTypeValidation, Code: ErrCodeUnbalancedGroup}
	ErrUnclosedGroup              = &Error{Type: ErrorTypeValidation, Code: ErrCodeUnclosedGroup}
	ErrUnsupportedOnDynamicEntity = &Error{Type: ErrorTypeValidation, Code: ErrCodeUnsupportedOnDynamicEntity}
	ErrNotInitialized             = &Error{Type: ErrorTypeConnection, Code: ErrCodeNotInitialized}
	ErrConnectionLost             = &Error{Type: ErrorTypeConnection, Code: ErrCodeConnectionLost}
	ErrStatementFailed            = &Error{Type: ErrorTypeExecution, Code: ErrCodeStatementFailed}
	ErrReconciliationFailed       = &Error{Type: ErrorTypeSchema, Code: ErrCodeReconciliationFailed}
)

// Error is the single error type returned by the data access layer.
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Entity  string         `json:"entity,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("[%s:%s] %s.%s: %s", e.Type, e.Code, e.Entity, e.Field, msg)
	case e.Entity != "":
		return fmt.Sprintf("[%s:%s] entity %s: %s", e.Type, e.Code, e.Entity, msg)
	case e.Field != "":
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a single detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithEntity adds entity context to the error
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// WithField adds field context to the error
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

func NewUndefinedEntityError(entity string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUndefinedEntity,
		Message: fmt.Sprintf("entity '%s' is not defined", entity),
		Entity:  entity,
	}
}

func NewUnknownFieldError(entity, field string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnknownField,
		Message: fmt.Sprintf("field '%s' of entity '%s' is not defined", field, entity),
		Entity:  entity,
		Field:   field,
	}
}

// NewConversionError reports a value that could not be coerced into the target kind.
func NewConversionError(value any, target ValueKind) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeConversionError,
		Message: fmt.Sprintf("cannot convert %#v to %s", value, target),
		Details: map[string]any{"value": value, "target": string(target)},
	}
}

func NewTypeMismatchError(entity, field string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeTypeMismatch,
		Message: "value does not match declared field type",
		Entity:  entity,
		Field:   field,
		Cause:   cause,
	}
}

func NewUnbalancedGroupError(message string) *Error {
	return &Error{Type: ErrorTypeValidation, Code: ErrCodeUnbalancedGroup, Message: message}
}

func NewUnclosedGroupError(open int) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnclosedGroup,
		Message: fmt.Sprintf("there are %d unclosed groups", open),
		Details: map[string]any{"open": open},
	}
}

func NewUnsupportedOnDynamicEntityError(operation string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnsupportedOnDynamicEntity,
		Message: fmt.Sprintf("%s is not supported on a dynamic entity", operation),
	}
}

func NewNotInitializedError() *Error {
	return &Error{
		Type:    ErrorTypeConnection,
		Code:    ErrCodeNotInitialized,
		Message: "database connection is not initialized",
	}
}

func NewConnectionLostError(cause error) *Error {
	return &Error{
		Type:    ErrorTypeConnection,
		Code:    ErrCodeConnectionLost,
		Message: "database connection lost",
		Cause:   cause,
	}
}

func NewStatementFailedError(statement string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeStatementFailed,
		Message: "statement failed",
		Details: map[string]any{"statement": statement},
		Cause:   cause,
	}
}

func NewReconciliationFailedError(entity string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeSchema,
		Code:    ErrCodeReconciliationFailed,
		Message: "schema reconciliation step failed",
		Entity:  entity,
		Cause:   cause,
	}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
