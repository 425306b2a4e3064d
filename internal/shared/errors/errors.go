package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for the migration domains
type ErrorType string

const (
	ErrorTypeDiscovery  ErrorType = "DISCOVERY_ERROR"
	ErrorTypeParse      ErrorType = "PARSE_ERROR"
	ErrorTypeConnection ErrorType = "CONNECTION_ERROR"
	ErrorTypeMigration  ErrorType = "MIGRATION_ERROR"
	ErrorTypeLedger     ErrorType = "LEDGER_ERROR"
	ErrorTypeSchema     ErrorType = "SCHEMA_ERROR"
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
)

// Store failures. Schema store adapters translate driver errors into these
// so callers never depend on a particular driver's error types.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrConnectionLost = errors.New("connection lost")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewDiscoveryError reports a migration set that cannot be loaded or ordered.
func NewDiscoveryError(message string) *AppError {
	return NewAppError(ErrorTypeDiscovery, message)
}

// NewParseError reports a single malformed migration file.
func NewParseError(path, message string) *AppError {
	return NewAppError(ErrorTypeParse, message).WithDetail("path", path)
}

// NewConnectionError reports a failure to reach or bootstrap the database.
func NewConnectionError(message string) *AppError {
	return NewAppError(ErrorTypeConnection, message)
}

// NewMigrationError reports an operation failure inside a migration.
func NewMigrationError(message string) *AppError {
	return NewAppError(ErrorTypeMigration, message)
}

// NewLedgerError reports an inconsistent or failed ledger update.
func NewLedgerError(message string) *AppError {
	return NewAppError(ErrorTypeLedger, message)
}

// NewSchemaError reports a store-level schema failure outside a migration run.
func NewSchemaError(message string) *AppError {
	return NewAppError(ErrorTypeSchema, message)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message)
}

// ParseErrors collects per-file parse failures so discovery can report all of them at once
type ParseErrors struct {
	Errors []error `json:"errors"`
}

// Error implements the error interface
func (pe *ParseErrors) Error() string {
	if len(pe.Errors) == 0 {
		return "no parse errors"
	}
	msgs := make([]string, 0, len(pe.Errors))
	for _, err := range pe.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d malformed migration file(s): %s", len(pe.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes every collected error to errors.Is / errors.As
func (pe *ParseErrors) Unwrap() []error {
	return pe.Errors
}

// NewParseErrors creates an empty collection
func NewParseErrors() *ParseErrors {
	return &ParseErrors{Errors: make([]error, 0)}
}

// Add appends a parse failure
func (pe *ParseErrors) Add(err error) *ParseErrors {
	if err != nil {
		pe.Errors = append(pe.Errors, err)
	}
	return pe
}

// HasErrors returns true if any parse failure was collected
func (pe *ParseErrors) HasErrors() bool {
	return len(pe.Errors) > 0
}

// ToAppError converts the collection into a single discovery error
func (pe *ParseErrors) ToAppError() *AppError {
	if !pe.HasErrors() {
		return nil
	}
	return NewDiscoveryError("migration discovery failed").
		WithCause(pe).
		WithDetail("malformed_files", len(pe.Errors))
}

// Helper functions for common error scenarios

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// TypeOf returns the ErrorType of the outermost AppError in the chain, or "" when there is none
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsDiscovery checks if an error is a discovery error
func IsDiscovery(err error) bool {
	return isType(err, ErrorTypeDiscovery)
}

// IsParse checks if an error is a parse error
func IsParse(err error) bool {
	return isType(err, ErrorTypeParse)
}

// IsConnection checks if an error is a connection error
func IsConnection(err error) bool {
	return isType(err, ErrorTypeConnection) || errors.Is(err, ErrConnectionLost)
}

// IsMigration checks if an error is a migration error
func IsMigration(err error) bool {
	return isType(err, ErrorTypeMigration)
}

// IsLedger checks if an error is a ledger error
func IsLedger(err error) bool {
	return isType(err, ErrorTypeLedger)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsNotFound checks if an error carries the store not-found condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error carries the store already-exists condition
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
