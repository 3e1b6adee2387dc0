package authcore

import (
	"net/http"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("d"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("d"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"unauthorized client", ErrUnauthorizedClient("d"), ErrorCodeUnauthorizedClient, http.StatusUnauthorized},
		{"unsupported response type", ErrUnsupportedResponseType("d"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("d"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"not found", ErrNotFound("d"), ErrorCodeNotFound, http.StatusNotFound},
		{"server error", ErrServerError("d"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "d" {
				t.Errorf("description = %q, want %q", tt.err.Description, "d")
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := ErrInvalidRequest("Missing redirect URI")
	want := "invalid_request: Missing redirect URI"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("Unknown storage backend type: %s", "cassandra")
	if err.Message != "Unknown storage backend type: cassandra" {
		t.Errorf("message = %q", err.Message)
	}
	if err.Error() != err.Message {
		t.Errorf("Error() = %q, want %q", err.Error(), err.Message)
	}
}
