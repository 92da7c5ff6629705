package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategory_String(t *testing.T) {
	tests := []struct {
		cat      Category
		expected string
	}{
		{Security, "Security"},
		{ResourceLimit, "ResourceLimit"},
		{Timeout, "Timeout"},
		{InvalidInput, "InvalidInput"},
		{SystemError, "SystemError"},
		{ToolError, "ToolError"},
		{Category(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.cat.String(); got != tt.expected {
				t.Errorf("Category.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCategory_MarshalJSON(t *testing.T) {
	b, err := Security.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if got, want := string(b), `"Security"`; got != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}
}

func TestRecord_Error(t *testing.T) {
	tests := []struct {
		name     string
		rec      *Record
		expected string
	}{
		{
			name:     "nil record",
			rec:      nil,
			expected: "<nil>",
		},
		{
			name:     "full record",
			rec:      New(InvalidInput, "INPUT_TOO_LARGE", "input exceeds maximum length"),
			expected: "INPUT_TOO_LARGE: input exceeds maximum length (InvalidInput)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Error(); got != tt.expected {
				t.Errorf("Record.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRecord_WithDetail(t *testing.T) {
	rec := New(Security, "PATH_NOT_ALLOWED", "path not allowed").WithDetail("path", "/etc/shadow")
	if got, ok := rec.Details["path"]; !ok || got != "/etc/shadow" {
		t.Errorf("Details[path] = %v, ok=%v, want /etc/shadow", got, ok)
	}
}

func TestRecord_WithDetails(t *testing.T) {
	rec := New(Security, "PATH_NOT_ALLOWED", "path not allowed").WithDetails(map[string]any{
		"path":    "/etc/shadow",
		"tool_id": "fs.read",
	})
	if len(rec.Details) != 2 {
		t.Errorf("len(Details) = %d, want 2", len(rec.Details))
	}
	if rec.Details["tool_id"] != "fs.read" {
		t.Errorf("Details[tool_id] = %v, want fs.read", rec.Details["tool_id"])
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	rec := Wrap(underlying, Security, "CAPABILITY_DENIED")

	if rec.Category != Security {
		t.Errorf("Category = %v, want %v", rec.Category, Security)
	}
	if rec.Message != "permission denied" {
		t.Errorf("Message = %q, want %q", rec.Message, "permission denied")
	}

	// Wrapping an existing Record returns it unchanged.
	again := Wrap(rec, Timeout, "TIMED_OUT")
	if again != rec {
		t.Error("Wrap of an existing Record should return the same Record")
	}

	if Wrap(nil, Security, "X") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *Record
		cat  Category
	}{
		{"ErrCapabilityDenied", ErrCapabilityDenied, Security},
		{"ErrPathNotAllowed", ErrPathNotAllowed, Security},
		{"ErrPathTraversal", ErrPathTraversal, Security},
		{"ErrCommandNotWhitelisted", ErrCommandNotWhitelisted, Security},
		{"ErrInputTooLarge", ErrInputTooLarge, InvalidInput},
		{"ErrUnknownTool", ErrUnknownTool, InvalidInput},
		{"ErrResourceLimitExceeded", ErrResourceLimitExceeded, ResourceLimit},
		{"ErrTimedOut", ErrTimedOut, Timeout},
		{"ErrExecutorNotAvailable", ErrExecutorNotAvailable, SystemError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.cat {
				t.Errorf("%s.Category = %v, want %v", tt.name, tt.err.Category, tt.cat)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	underlying := fmt.Errorf("file not found")
	rec1 := Wrap(underlying, SystemError, "IO_ERROR")
	err2 := fmt.Errorf("operation failed: %w", rec1)

	var got *Record
	if !errors.As(err2, &got) {
		t.Fatal("errors.As should find the Record in the chain")
	}
	if got.Code != "IO_ERROR" {
		t.Errorf("Code = %q, want %q", got.Code, "IO_ERROR")
	}
}
