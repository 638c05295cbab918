// Package errors defines the error values returned by the batch engine.
//
// Every failure the engine reports is a value of type *EngineError carrying
// a category, a machine-readable code, and enough context for the caller to
// fix the input. Errors never abort batch evaluation as a whole; a malformed
// entry degrades that entry's validation status instead.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category represents the broad classes of engine errors
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryGuard        Category = "guard"
	CategoryConflict     Category = "conflict"
	CategoryCollaborator Category = "collaborator"
	CategoryNotFound     Category = "not_found"
	CategoryInternal     Category = "internal"
)

// Code represents specific error codes within categories
type Code string

const (
	// Validation errors
	CodeInvalidIBAN   Code = "invalid_iban"
	CodeInvalidBIC    Code = "invalid_bic"
	CodeInvalidAmount Code = "invalid_amount"
	CodeInvalidFilter Code = "invalid_filter"
	CodeInvalidConfig Code = "invalid_config"

	// Guard errors
	CodeIllegalTransition Code = "illegal_transition"
	CodeEntriesNotValid   Code = "entries_not_valid"
	CodeFileNotGenerated  Code = "file_not_generated"

	// Conflict errors
	CodeUnresolvedConflicts Code = "unresolved_conflicts"
	CodeEscalatedConflicts  Code = "escalated_conflicts"
	CodeResolutionFinal     Code = "resolution_final"
	CodeUnknownDecision     Code = "unknown_decision"

	// Collaborator errors
	CodeTimeout     Code = "timeout"
	CodeUnavailable Code = "unavailable"

	// Not found errors
	CodeBatchNotFound    Code = "batch_not_found"
	CodeConflictNotFound Code = "conflict_not_found"
	CodeEntryNotFound    Code = "entry_not_found"

	// Internal errors
	CodeUnexpectedError Code = "unexpected_error"
)

// EngineError is the base error type for all batch engine errors
type EngineError struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may safely retry the failed
// operation with the same inputs. Only collaborator errors are retryable;
// the engine itself performs no retries.
func (e *EngineError) Retryable() bool {
	return e.Category == CategoryCollaborator
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError
func New(category Category, code Code, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category Category, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
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

// ValidationError creates an error for malformed input (IBAN, BIC, amounts,
// filter bounds). The field and offending value are preserved in context so
// the caller can correct the input.
func ValidationError(code Code, field string, value interface{}) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidIBAN:
		message = fmt.Sprintf("invalid IBAN in field '%s': %v", field, value)
		suggestion = "check the country prefix, length, and checksum digits"
	case CodeInvalidBIC:
		message = fmt.Sprintf("invalid BIC in field '%s': %v", field, value)
		suggestion = "a BIC is 8 or 11 characters: bank code, country, location, optional branch"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be positive decimal numbers (e.g. '12.34')"
	case CodeInvalidFilter:
		message = fmt.Sprintf("invalid filter bound '%s': %v", field, value)
		suggestion = "check the date range and amount bounds"
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", field, value)
		suggestion = "check the configuration documentation for valid values"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return New(CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// GuardViolation creates an error for an illegal lifecycle transition.
// The blocking entry and conflict identifiers are recorded in context so
// the caller can see exactly what prevents the transition. The transition
// is never partially applied.
func GuardViolation(code Code, batchID, from, to string, blocking []string) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeIllegalTransition:
		message = fmt.Sprintf("batch %s cannot transition from %s to %s", batchID, from, to)
		suggestion = "follow the batch lifecycle: Draft, Generated, Submitted, then Processed or Failed"
	case CodeEntriesNotValid:
		message = fmt.Sprintf("batch %s has entries blocking transition from %s to %s", batchID, from, to)
		suggestion = "fix or explicitly override the flagged entries before generating"
	case CodeFileNotGenerated:
		message = fmt.Sprintf("batch %s has no collection file; cannot transition from %s to %s", batchID, from, to)
		suggestion = "wait for the file generation collaborator to report the file"
	default:
		message = fmt.Sprintf("guard violation on batch %s transitioning from %s to %s", batchID, from, to)
		suggestion = "inspect the batch state before retrying"
	}

	result := New(CategoryGuard, code, message).
		WithSuggestion(suggestion).
		WithContext("batch_id", batchID).
		WithContext("from", from).
		WithContext("to", to)
	if len(blocking) > 0 {
		result = result.WithContext("blocking", blocking)
	}
	return result
}

// UnresolvedConflictError creates an error for an attempt to finalize a
// batch while high-risk conflicts are outstanding.
func UnresolvedConflictError(batchID string, conflictIDs []string) *EngineError {
	return New(CategoryConflict, CodeUnresolvedConflicts,
		fmt.Sprintf("batch %s has %d unresolved or escalated conflicts", batchID, len(conflictIDs))).
		WithSuggestion("resolve or escalate every conflict before generating the batch").
		WithContext("batch_id", batchID).
		WithContext("conflict_ids", conflictIDs)
}

// ConflictResolutionError creates an error for an invalid resolution request
func ConflictResolutionError(code Code, conflictID string, detail string) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeResolutionFinal:
		message = fmt.Sprintf("conflict %s already has a final resolution: %s", conflictID, detail)
		suggestion = "re-evaluate the batch to discard prior resolutions before deciding again"
	case CodeUnknownDecision:
		message = fmt.Sprintf("unknown resolution decision for conflict %s: %s", conflictID, detail)
		suggestion = "valid decisions are proceed, merge, exclude, and escalate"
	default:
		message = fmt.Sprintf("cannot resolve conflict %s: %s", conflictID, detail)
		suggestion = "check the conflict state and the requested decision"
	}

	return New(CategoryConflict, code, message).
		WithSuggestion(suggestion).
		WithContext("conflict_id", conflictID)
}

// CollaboratorTimeout creates a retryable error for an external dependency
// that did not answer within the caller-supplied deadline.
func CollaboratorTimeout(collaborator string, err error) *EngineError {
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryCollaborator, CodeTimeout,
			fmt.Sprintf("timeout waiting for %s", collaborator))
	} else {
		result = New(CategoryCollaborator, CodeTimeout,
			fmt.Sprintf("timeout waiting for %s", collaborator))
	}
	return result.
		WithSuggestion("the operation is idempotent; retry with the same inputs").
		WithContext("collaborator", collaborator)
}

// NotFoundError creates an error for an unknown batch or conflict identifier
func NotFoundError(code Code, id string) *EngineError {
	var message string

	switch code {
	case CodeBatchNotFound:
		message = fmt.Sprintf("batch not found: %s", id)
	case CodeConflictNotFound:
		message = fmt.Sprintf("conflict not found: %s", id)
	case CodeEntryNotFound:
		message = fmt.Sprintf("entry not found: %s", id)
	default:
		message = fmt.Sprintf("not found: %s", id)
	}

	return New(CategoryNotFound, code, message).
		WithSuggestion("check the identifier; the batch may have been discarded").
		WithContext("id", id)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *EngineError {
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError,
			fmt.Sprintf("unexpected error during %s", operation))
	} else {
		result = New(CategoryInternal, CodeUnexpectedError,
			fmt.Sprintf("unexpected error during %s", operation))
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary aggregates the errors collected during a multi-item operation
// such as applying a resolution map.
type ErrorSummary struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	ByCode     map[Code]int     `json:"by_code"`
	Errors     []*EngineError   `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*EngineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[Category]int),
		ByCode:     make(map[Code]int),
		Errors:     errs,
	}
	if errs == nil {
		summary.Errors = []*EngineError{}
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
func (es *ErrorSummary) HasCategory(category Category) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// Utility functions

// IsEngineError checks if an error is an EngineError
func IsEngineError(err error) bool {
	_, ok := err.(*EngineError)
	return ok
}

// AsEngineError extracts an EngineError from an error chain
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// IsCategory reports whether err is an EngineError of the given category
func IsCategory(err error, category Category) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.Category == category
}
