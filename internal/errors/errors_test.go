package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeServerInvalidMessage, "type is required"),
			expected: "server.invalid_message: type is required",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeStorageSaveFailed, "save setting failed", errors.New("disk full")),
			expected: "storage.save_failed: save setting failed (disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the original cause")
	}

	if New(CodeUnknown, "x").Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"coded error", New(CodeAuthUnknownToken, "pair first"), CodeAuthUnknownToken},
		{"wrapped coded error", fmt.Errorf("outer: %w", New(CodePushSendFailed, "x")), CodePushSendFailed},
		{"plain error", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(HandlerFailed("facts:list", errors.New("db locked")), CodeInternal)
	if code != CodeServerHandlerFailed || msg != "facts:list failed" {
		t.Errorf("got (%q, %q)", code, msg)
	}

	code, msg = ToCodeAndMessage(errors.New("db locked"), CodeServerHandlerFailed)
	if code != CodeServerHandlerFailed || msg != "db locked" {
		t.Errorf("got (%q, %q)", code, msg)
	}

	code, msg = ToCodeAndMessage(nil, CodeInternal)
	if code != "" || msg != "" {
		t.Errorf("nil error should map to empty strings, got (%q, %q)", code, msg)
	}
}

func TestGetNextAction(t *testing.T) {
	for _, code := range []string{CodeAuthPairInvalidCode, CodeStorageOpenFailed, CodeStorageQueryFailed} {
		if GetNextAction(code) == "" {
			t.Errorf("expected a next action for %s", code)
		}
	}
	if GetNextAction("no.such_code") != "" {
		t.Error("unknown codes should have no next action")
	}
}
