package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// TestError_Error_WithStatusCode tests Error.Error() includes status code
func TestError_Error_WithStatusCode(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
	}

	result := err.Error()
	if !strings.Contains(result, "HTTP 503") {
		t.Errorf("expected error message to contain 'HTTP 503', got: %s", result)
	}
	if !strings.Contains(result, "server error") {
		t.Errorf("expected error message to contain 'server error', got: %s", result)
	}
}

// TestError_Error_WithEndpoint tests Error.Error() reduces the endpoint to its host
func TestError_Error_WithEndpoint(t *testing.T) {
	err := &Error{
		Type:     ErrorTypeEndpoint,
		Message:  "connection failed",
		Endpoint: "https://api.openai.com/v1",
		Model:    "gpt-4o",
	}

	result := err.Error()
	if !strings.Contains(result, "endpoint=api.openai.com") {
		t.Errorf("expected error message to contain 'endpoint=api.openai.com', got: %s", result)
	}
	if strings.Contains(result, "/v1") {
		t.Errorf("endpoint should be redacted to host only, got: %s", result)
	}
	if !strings.Contains(result, "model=gpt-4o") {
		t.Errorf("expected error message to contain 'model=gpt-4o', got: %s", result)
	}
}

func TestError_Error_WithCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewError(ErrorTypeEndpoint, "request timeout", true, cause)

	if !strings.HasSuffix(err.Error(), "dial tcp: i/o timeout") {
		t.Errorf("expected cause in message, got: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestClassifyError_APIStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{401, ErrorTypeAuth, false},
		{403, ErrorTypeAuth, false},
		{404, ErrorTypeEndpoint, false},
		{429, ErrorTypeUnknown, true},
		{500, ErrorTypeEndpoint, true},
		{502, ErrorTypeEndpoint, true},
		{400, ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			err := ClassifyError(fmt.Errorf("create chat completion: %w", &openai.APIError{
				HTTPStatusCode: tt.status,
				Message:        "rejected",
			}))
			if err.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, err.Type)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, err.Retryable)
			}
			if err.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, err.StatusCode)
			}
		})
	}
}

func TestClassifyError_Messages(t *testing.T) {
	tests := []struct {
		msg       string
		wantType  ErrorType
		retryable bool
	}{
		{"dial tcp 127.0.0.1:8000: connection refused", ErrorTypeEndpoint, true},
		{"Post \"http://x/v1\": context deadline exceeded", ErrorTypeEndpoint, true},
		{"the model `gpt-9` does not exist", ErrorTypeModel, false},
		{"something odd", ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		err := ClassifyError(errors.New(tt.msg))
		if err.Type != tt.wantType || err.Retryable != tt.retryable {
			t.Errorf("%q: got type=%s retryable=%v", tt.msg, err.Type, err.Retryable)
		}
	}
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := NewErrorWithContext(ErrorTypeModel, "model not found", false, nil, "m", "http://h", 404)
	wrapped := fmt.Errorf("ocr: %w", original)

	if got := ClassifyError(wrapped); got != original {
		t.Errorf("expected the wrapped *Error to be returned unchanged, got %v", got)
	}
	if ClassifyError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIsRetryable_ContextCanceled(t *testing.T) {
	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled must not be retryable")
	}
}
