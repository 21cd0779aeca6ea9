package errors

import (
	"fmt"
	"strings"
)

// ValidationError describes one offending request field.
type ValidationError struct {
	Message         string `json:"message"`
	MessageTemplate string `json:"messageTemplate"`
	Property        string `json:"property"`
	Value           string `json:"value"`
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s (%s=%q)", v.Message, v.Property, v.Value)
}

// InvalidArgumentError collects validation errors so that every problem in a
// request is reported at once. It matches ErrInvalidArgument under errors.Is.
type InvalidArgumentError struct {
	errs []ValidationError
}

// NewInvalidArgumentError creates an InvalidArgumentError holding a single validation error.
func NewInvalidArgumentError(message, template, property, value string) *InvalidArgumentError {
	return (&InvalidArgumentError{}).AddValidationError(message, template, property, value)
}

// AddValidationError appends a validation error and returns the receiver for chaining.
func (e *InvalidArgumentError) AddValidationError(message, template, property, value string) *InvalidArgumentError {
	e.errs = append(e.errs, ValidationError{
		Message:         message,
		MessageTemplate: template,
		Property:        property,
		Value:           value,
	})
	return e
}

// ValidationErrors returns the collected errors in insertion order.
func (e *InvalidArgumentError) ValidationErrors() []ValidationError {
	out := make([]ValidationError, len(e.errs))
	copy(out, e.errs)
	return out
}

// HasErrors reports whether at least one validation error was collected.
func (e *InvalidArgumentError) HasErrors() bool {
	return e != nil && len(e.errs) > 0
}

// ErrorOrNil returns the receiver as an error, or nil if nothing was collected.
// Use this at the end of a collection loop to avoid returning a typed nil.
func (e *InvalidArgumentError) ErrorOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return WithStack(e)
}

func (e *InvalidArgumentError) Error() string {
	if len(e.errs) == 0 {
		return ErrInvalidArgument.Error()
	}
	parts := make([]string, 0, len(e.errs))
	for _, v := range e.errs {
		parts = append(parts, v.String())
	}
	return ErrInvalidArgument.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidArgument) match a collected error.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// ValidationErrorsOf extracts the validation errors from err, if it carries any.
func ValidationErrorsOf(err error) []ValidationError {
	var iae *InvalidArgumentError
	if As(err, &iae) {
		return iae.ValidationErrors()
	}
	return nil
}
