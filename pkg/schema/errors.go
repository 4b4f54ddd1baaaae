package schema

import "fmt"

// Error codes for structured error reporting. They follow the pipeline's
// failure taxonomy: structural errors surface before any element runs,
// schema/binding/runtime errors are scoped to a single element.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeStructural  = "STRUCTURAL_ERROR"
	ErrCodeSchema      = "SCHEMA_ERROR"
	ErrCodeBinding     = "BINDING_ERROR"
	ErrCodeRuntime     = "RUNTIME_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_FORMAT"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeCancelled   = "CANCELLED"
)

// HeliosError is the structured error type for all pipeline operations.
type HeliosError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Element string         `json:"element,omitempty"`
	Cause   error          `json:"-"`
}

func (e *HeliosError) Error() string {
	if e.Element != "" {
		return fmt.Sprintf("[%s] element %s: %s", e.Code, e.Element, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *HeliosError) Unwrap() error {
	return e.Cause
}

// NewError creates a new HeliosError.
func NewError(code, message string) *HeliosError {
	return &HeliosError{Code: code, Message: message}
}

// NewErrorf creates a new HeliosError with a formatted message.
func NewErrorf(code, format string, args ...any) *HeliosError {
	return &HeliosError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithElement attaches the name of the workflow element the error is scoped to.
func (e *HeliosError) WithElement(name string) *HeliosError {
	e.Element = name
	return e
}

// WithCause attaches an underlying cause.
func (e *HeliosError) WithCause(err error) *HeliosError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *HeliosError) WithDetails(details map[string]any) *HeliosError {
	e.Details = details
	return e
}
