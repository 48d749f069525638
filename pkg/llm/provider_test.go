package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestAPIErrorTemporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		err := &APIError{Provider: "openai", StatusCode: tt.status, Err: errors.New("boom")}
		if got := err.Temporary(); got != tt.want {
			t.Errorf("status %d: Temporary() = %v, want %v", tt.status, got, tt.want)
		}
	}

	wrapped := fmt.Errorf("model call: %w", &APIError{Provider: "anthropic", StatusCode: 529, Err: io.ErrUnexpectedEOF})
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) || !apiErr.Temporary() {
		t.Errorf("errors.As through wrapping failed: %v", wrapped)
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("APIError should unwrap to its cause")
	}
}

func TestToolWireFormat(t *testing.T) {
	tool := Tool{
		Type: "function",
		Function: Function{
			Name:        "list_programs",
			Description: "List programs",
			Parameters:  json.RawMessage(`{"properties":{},"type":"object"}`),
		},
	}
	data, err := json.Marshal(tool)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"function","function":{"name":"list_programs","description":"List programs","parameters":{"properties":{},"type":"object"}}}`
	if string(data) != want {
		t.Errorf("unexpected wire format:\n got %s\nwant %s", data, want)
	}
}

func TestToolResultMessageWireFormat(t *testing.T) {
	data, err := json.Marshal(Message{Role: "tool", Content: `{"error":"not found"}`, ToolCallID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"role":"tool","content":"{\"error\":\"not found\"}","tool_call_id":"c1"}`
	if string(data) != want {
		t.Errorf("unexpected wire format:\n got %s\nwant %s", data, want)
	}
}
