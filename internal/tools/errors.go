// Package tools provides the financial tool registry and its deterministic
// tool implementations.
//
// This file defines the error values tool execution can return.
package tools

import (
	"errors"
	"fmt"
)

// Validation failures. Tool errors are reported back to the model as
// tool-result messages, so the text should read well in that context.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientOperands = errors.New("insufficient operands")
	ErrDivisionByZero       = errors.New("division by zero is not allowed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ErrUnknownTool is returned when a tool call names a tool outside the
// closed vocabulary. The turn loop surfaces it to the model instead of
// dropping the call.
type ErrUnknownTool struct {
	Name string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// isToolError reports whether err wraps one of the validation sentinels.
func isToolError(err error) bool {
	for _, s := range []error{
		ErrInvalidAmount,
		ErrInvalidArgument,
		ErrInsufficientOperands,
		ErrDivisionByZero,
		ErrUnsupportedOperation,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
