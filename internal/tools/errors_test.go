package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrUnknownTool_Error(t *testing.T) {
	err := &ErrUnknownTool{Name: "transfer_funds"}
	want := `unknown tool "transfer_funds"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrUnknownTool_WrappedErrorsAs(t *testing.T) {
	orig := &ErrUnknownTool{Name: "send_money"}
	wrapped := fmt.Errorf("tool execution: %w", orig)

	var target *ErrUnknownTool
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrUnknownTool")
	}
	if target.Name != "send_money" {
		t.Errorf("Name = %q, want %q", target.Name, "send_money")
	}
}

func TestErrUnknownTool_NotMatchOtherErrors(t *testing.T) {
	var target *ErrUnknownTool
	if errors.As(ErrInvalidAmount, &target) {
		t.Error("errors.As should not match a sentinel error")
	}
}
