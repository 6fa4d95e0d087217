package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/comfypod/comfypod/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		errType api.ErrorType
		want    int
	}{
		{api.ErrorTypeInvalidRequest, http.StatusBadRequest},
		{api.ErrorTypeNotFound, http.StatusNotFound},
		{api.ErrorTypeTooManyRequests, http.StatusTooManyRequests},
		{api.ErrorTypeServerError, http.StatusInternalServerError},
		{api.ErrorTypeEngineError, http.StatusInternalServerError},
		{"unknown", http.StatusInternalServerError},
	}

	for _, c := range cases {
		got := HTTPStatusFromError(&api.APIError{Type: c.errType})
		if got != c.want {
			t.Errorf("HTTPStatusFromError(%q) = %d, want %d", c.errType, got, c.want)
		}
	}
}

func TestWriteAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, api.NewInvalidRequestError("steps", "steps must be at least 1"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Error == nil || resp.Error.Param != "steps" {
		t.Errorf("error body = %+v", resp.Error)
	}
}
