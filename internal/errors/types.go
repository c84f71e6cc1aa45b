package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeScript     ErrorType = "script"
	ErrorTypeHistory    ErrorType = "history"
	ErrorTypeMisuse     ErrorType = "misuse"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// PlaidError is a structured error type with context.
type PlaidError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *PlaidError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PlaidError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code.
func (e *PlaidError) Is(target error) bool {
	var t *PlaidError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PlaidError) WithContext(key string, value interface{}) *PlaidError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *PlaidError) WithComponent(component string) *PlaidError {
	e.Component = component

	return e
}

// Common error codes.
const (
	ErrCodeOffline         = "ERR_OFFLINE"
	ErrCodeRequestFailed   = "ERR_REQUEST_FAILED"
	ErrCodeBadStatus       = "ERR_BAD_STATUS"
	ErrCodeDecodeResponse  = "ERR_DECODE_RESPONSE"
	ErrCodeScriptFailed    = "ERR_SCRIPT_FAILED"
	ErrCodeScriptTimeout   = "ERR_SCRIPT_TIMEOUT"
	ErrCodeHistoryDesync   = "ERR_HISTORY_DESYNC"
	ErrCodeHistoryEmpty    = "ERR_HISTORY_EMPTY"
	ErrCodeFormNotSet      = "ERR_FORM_NOT_SET"
	ErrCodeInvalidLocation = "ERR_INVALID_LOCATION"
	ErrCodeInvalidValue    = "ERR_INVALID_VALUE"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodePortalNotFound  = "ERR_PORTAL_NOT_FOUND"
	ErrCodeSessionStore    = "ERR_SESSION_STORE"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// NewNetworkError wraps a failure to reach the server.
func NewNetworkError(code, message string, cause error) *PlaidError {
	return &PlaidError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTransportError reports a response the server produced but the runtime
// cannot accept, such as a non-2xx status.
func NewTransportError(code, message string, cause error) *PlaidError {
	return &PlaidError{
		Type:        ErrorTypeTransport,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewDecodeError creates a response decoding error.
func NewDecodeError(message string, cause error) *PlaidError {
	return &PlaidError{
		Type:        ErrorTypeDecode,
		Code:        ErrCodeDecodeResponse,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewScriptError creates a script execution error.
func NewScriptError(code, message string, cause error) *PlaidError {
	return &PlaidError{
		Type:        ErrorTypeScript,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewHistoryError creates a history bookkeeping error. These are never
// recoverable.
func NewHistoryError(code, message string) *PlaidError {
	return &PlaidError{
		Type:    ErrorTypeHistory,
		Code:    code,
		Message: message,
	}
}

// NewMisuseError creates a programming error.
func NewMisuseError(code, message string) *PlaidError {
	return &PlaidError{
		Type:    ErrorTypeMisuse,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PlaidError {
	return &PlaidError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PlaidError {
	return &PlaidError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PlaidError {
	return &PlaidError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PlaidError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// TypeOf returns the ErrorType of err, or "" for foreign errors.
func TypeOf(err error) ErrorType {
	var pe *PlaidError
	if errors.As(err, &pe) {
		return pe.Type
	}

	return ""
}

// offlineMessages are the failure strings browsers report when a fetch
// never reached the network. Servers that relay client failures use them
// verbatim.
var offlineMessages = []string{
	"Failed to fetch",
	"NetworkError when attempting to fetch resource.",
	"The Internet connection appears to be offline.",
	"Network request failed",
}

// IsIgnorable reports whether err is a transient offline condition that the
// dispatcher swallows without alerting the user.
func IsIgnorable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	var pe *PlaidError
	if errors.As(err, &pe) && pe.Code == ErrCodeOffline {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	msg := err.Error()
	for _, m := range offlineMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger   Logger
	notifier Notifier
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Debug(ctx context.Context, msg string, fields ...interface{})
}

// Notifier receives errors that must be surfaced to the user.
type Notifier interface {
	NotifyError(ctx context.Context, err error) error
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger, notifier Notifier) *ErrorHandler {
	return &ErrorHandler{
		logger:   logger,
		notifier: notifier,
	}
}

// Handle logs err and, unless it is ignorable, forwards it to the notifier.
// It reports whether the user was notified.
func (h *ErrorHandler) Handle(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if IsIgnorable(err) {
		if h.logger != nil {
			h.logger.Debug(ctx, "Ignoring offline error", "error", err.Error())
		}
		return false
	}

	var pe *PlaidError
	if errors.As(err, &pe) {
		h.handlePlaidError(ctx, pe)
	} else if h.logger != nil {
		h.logger.Error(ctx, err, "Unhandled error occurred")
	}

	if h.notifier != nil {
		_ = h.notifier.NotifyError(ctx, err)
	}
	return true
}

func (h *ErrorHandler) handlePlaidError(ctx context.Context, err *PlaidError) {
	if h.logger == nil {
		return
	}

	switch err.Type {
	case ErrorTypeValidation, ErrorTypeTransport:
		h.logger.Warn(ctx, err, "Request rejected",
			"type", err.Type,
			"code", err.Code,
			"component", err.Component)
	case ErrorTypeScript:
		h.logger.Warn(ctx, err, "Script failed",
			"type", err.Type,
			"code", err.Code)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", err.Type,
			"code", err.Code,
			"component", err.Component)
	}
}

// FieldValidationError reports a single invalid field.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []*FieldValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	switch len(vec.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Errors = append(vec.Errors, &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
	})
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToPlaidError converts the collection into a single config error.
func (vec *ValidationErrorCollection) ToPlaidError() *PlaidError {
	if !vec.HasErrors() {
		return nil
	}

	messages := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
	}

	pe := NewConfigError(ErrCodeConfigInvalid, strings.Join(messages, "; "))
	for _, err := range vec.Errors {
		pe.WithContext(err.FieldName, err.FieldValue)
	}
	return pe
}

// ErrFormNotSet is raised when a field value is attached to a builder whose
// form container was cleared.
func ErrFormNotSet(field string) *PlaidError {
	return NewMisuseError(ErrCodeFormNotSet, "form not exist").WithContext("field", field)
}

// ErrHistoryDesync is raised when a popstate names a record the stack does
// not hold.
func ErrHistoryDesync(id string) *PlaidError {
	return NewHistoryError(ErrCodeHistoryDesync, "popstate does not match any history record").
		WithContext("id", id)
}

// ErrBadStatus reports a non-2xx response.
func ErrBadStatus(url string, status int) *PlaidError {
	return NewTransportError(ErrCodeBadStatus, fmt.Sprintf("unexpected status %d", status), nil).
		WithContext("url", url)
}
