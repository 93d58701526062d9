package visum

import (
	"encoding/json"
	"fmt"
)

// ErrAPI is the sentinel for requests the service rejected.
// Use errors.Is(err, visum.ErrAPI) to distinguish rejections from transport
// failures, which are returned wrapped but otherwise unmodified.
var ErrAPI = &APIError{}

// APIError is returned when the service answers with a non-2xx status.
// Body always holds the raw response exactly as received; Status is filled in
// when the body parsed as a service envelope.
type APIError struct {
	StatusCode int
	Status     *Status
	Body       []byte
}

// newAPIError builds an APIError from a rejected response, extracting the
// service status when the body carries one.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Body:       body,
	}

	var envelope struct {
		Status *Status `json:"status"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Status != nil {
		apiErr.Status = envelope.Status
	}

	return apiErr
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != nil && e.Status.Description != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Status.Description)
	}

	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, string(e.Body))
}

// Is implements the error interface for error comparison.
func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)

	return ok
}

// ErrValidation represents a validation error.
// Use when input fails client-side validation before any request is sent.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" && e.Message != "" {
		return e.Field + ": " + e.Message
	}

	if e.Message != "" {
		return e.Message
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrBatch is the sentinel for failures inside a batched operation.
var ErrBatch = &BatchError{}

// BatchError reports which batch of a chunked operation failed. Batches
// already dispatched when the failure occurred may still have been applied;
// the service does not roll them back.
type BatchError struct {
	BatchIndex int // zero-based position in dispatch order
	BatchCount int
	Err        error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("batch %d of %d failed", e.BatchIndex+1, e.BatchCount)
	}

	return fmt.Sprintf("batch %d of %d failed: %v", e.BatchIndex+1, e.BatchCount, e.Err)
}

// Unwrap returns the underlying batch failure, so errors.Is and errors.As
// reach the APIError or transport error that caused it.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *BatchError) Is(target error) bool {
	_, ok := target.(*BatchError)

	return ok
}
