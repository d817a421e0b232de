// Package errors defines the error taxonomy shared by all reconciliation
// components.
//
// Every failure in the system is classified into a category that determines
// the recovery policy:
//   - auth: fatal, aborts the whole run
//   - transient: retried with backoff, then degraded (skip month, drop document)
//   - not_found: the affected entity is dropped with a warning
//   - schema: the affected row is dropped with a warning
//   - fx: logged, the row is treated as EUR
//   - cancelled: the run returns promptly with partial results
//   - configuration / internal: surfaced to the caller
//
// Errors carry a category, a specific code, optional context values and a
// suggestion for the operator, plus a stack trace captured at creation time.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents the recovery class of an error
type ErrorCategory string

const (
	CategoryAuth          ErrorCategory = "auth"
	CategoryTransient     ErrorCategory = "transient"
	CategoryNotFound      ErrorCategory = "not_found"
	CategorySchema        ErrorCategory = "schema"
	CategoryFx            ErrorCategory = "fx"
	CategoryCancelled     ErrorCategory = "cancelled"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Auth errors
	CodeInvalidAPIKey ErrorCode = "invalid_api_key"
	CodeForbidden     ErrorCode = "forbidden"

	// Transient errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeTimeout            ErrorCode = "timeout"
	CodeServerError        ErrorCode = "server_error"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeRetriesExhausted   ErrorCode = "retries_exhausted"

	// Not-found errors
	CodeDocumentNotFound ErrorCode = "document_not_found"
	CodeMonthNotFound    ErrorCode = "month_not_found"

	// Schema errors
	CodeInvalidPayload ErrorCode = "invalid_payload"
	CodeMissingField   ErrorCode = "missing_field"
	CodeInvalidAmount  ErrorCode = "invalid_amount"
	CodeInvalidDate    ErrorCode = "invalid_date"

	// FX errors
	CodeRateUnavailable ErrorCode = "rate_unavailable"

	// Cancellation
	CodeRunCancelled ErrorCode = "run_cancelled"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryAuth:
		return 2
	case CategorySchema:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryInternal:
		return 5
	case CategoryTransient, CategoryNotFound:
		return 6
	case CategoryCancelled:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// AuthError creates a fatal authentication error
func AuthError(code ErrorCode, endpoint string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAPIKey:
		message = fmt.Sprintf("workflow service rejected the API key at %s", endpoint)
		suggestion = "check the RECONCILER_API_KEY value and key validity"
	case CodeForbidden:
		message = fmt.Sprintf("access denied by %s", endpoint)
		suggestion = "verify the API key has access to this tenant"
	default:
		message = fmt.Sprintf("authentication failed at %s", endpoint)
		suggestion = "check the configured credentials"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryAuth, code, message)
	} else {
		result = New(CategoryAuth, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// TransientError creates a retriable network or service error
func TransientError(code ErrorCode, endpoint string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	case CodeTimeout:
		message = fmt.Sprintf("timeout connecting to %s", endpoint)
		suggestion = "increase the per-request timeout or check network speed"
	case CodeServerError:
		message = fmt.Sprintf("server error from %s", endpoint)
		suggestion = "try again later or contact the service administrator"
	case CodeRateLimited:
		message = fmt.Sprintf("rate limited by %s", endpoint)
		suggestion = "lower the concurrency setting"
	case CodeRetriesExhausted:
		message = fmt.Sprintf("retries exhausted against %s", endpoint)
		suggestion = "check service health; partial results were kept"
	default:
		message = fmt.Sprintf("transient error from %s", endpoint)
		suggestion = "the operation may succeed on retry"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryTransient, code, message)
	} else {
		result = New(CategoryTransient, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// NotFoundError creates an error for an entity the service no longer has
func NotFoundError(code ErrorCode, entity string, id interface{}) *ReconcilerError {
	message := fmt.Sprintf("%s %v not found", entity, id)

	return New(CategoryNotFound, code, message).
		WithSuggestion("the entity is dropped from the run; verify it still exists upstream").
		WithContext("entity", entity).
		WithContext("id", id)
}

// SchemaError creates an error for malformed response data
func SchemaError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidPayload:
		message = fmt.Sprintf("response payload not decodable at '%s'", field)
		suggestion = "the workflow service may have changed its response format"
	case CodeMissingField:
		message = fmt.Sprintf("mandatory field '%s' missing from response", field)
		suggestion = "the affected row is dropped; check the source record"
	case CodeInvalidAmount:
		message = fmt.Sprintf("non-numeric amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("non-parsable date in field '%s': %v", field, value)
		suggestion = "use ISO 8601 date format (YYYY-MM-DD)"
	default:
		message = fmt.Sprintf("schema error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategorySchema, code, message)
	} else {
		result = New(CategorySchema, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// FxError creates an error for an unobtainable exchange rate
func FxError(currency string, date string, err error) *ReconcilerError {
	message := fmt.Sprintf("no exchange rate for %s on %s", currency, date)

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryFx, CodeRateUnavailable, message)
	} else {
		result = New(CategoryFx, CodeRateUnavailable, message)
	}

	return result.
		WithSuggestion("the amount is treated as EUR; extend the rate table if this is wrong").
		WithContext("currency", currency).
		WithContext("date", date)
}

// CancelledError creates an error marking a caller-requested cancellation
func CancelledError(operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("%s cancelled", operation)

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryCancelled, CodeRunCancelled, message)
	} else {
		result = New(CategoryCancelled, CodeRunCancelled, message)
	}

	return result.
		WithSuggestion("partial results up to the cancellation point were returned").
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, env or config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Category predicates used by the retry and abort logic

// IsAuth reports whether the error chain contains a fatal auth error
func IsAuth(err error) bool {
	return hasCategory(err, CategoryAuth)
}

// IsTransient reports whether the error chain contains a retriable error
func IsTransient(err error) bool {
	return hasCategory(err, CategoryTransient)
}

// IsNotFound reports whether the error chain contains a not-found error
func IsNotFound(err error) bool {
	return hasCategory(err, CategoryNotFound)
}

// IsSchema reports whether the error chain contains a schema error
func IsSchema(err error) bool {
	return hasCategory(err, CategorySchema)
}

// IsCancelled reports whether the error chain contains a cancellation marker
func IsCancelled(err error) bool {
	return hasCategory(err, CategoryCancelled)
}

func hasCategory(err error, category ErrorCategory) bool {
	reconcilerErr, ok := AsReconcilerError(err)
	return ok && reconcilerErr.Category == category
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
