package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(400, "bad request")
	if e.Code != 400 {
		t.Errorf("Code = %d, want 400", e.Code)
	}
	if e.Message != "bad request" {
		t.Errorf("Message = %q, want %q", e.Message, "bad request")
	}
	if e.Error() != "bad request" {
		t.Errorf("Error() = %q, want %q", e.Error(), "bad request")
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, 502, "upstream error")

	if e.Code != 502 {
		t.Errorf("Code = %d, want 502", e.Code)
	}

	want := "upstream error: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestWithDetail(t *testing.T) {
	e := New(400, "Bad Request").WithDetail("field 'path' is required")

	if e.Detail != "field 'path' is required" {
		t.Errorf("Detail = %q, want %q", e.Detail, "field 'path' is required")
	}
	if e.Code != 400 {
		t.Errorf("Code = %d, want 400", e.Code)
	}
	if e.Message != "Bad Request" {
		t.Errorf("Message = %q, want %q", e.Message, "Bad Request")
	}
}

func TestWithRequestIDPreservesFields(t *testing.T) {
	e := New(400, "Bad Request").
		WithDetail("detail here").
		WithRequestID("req-789")

	if e.Detail != "detail here" {
		t.Errorf("WithRequestID should preserve Detail, got %q", e.Detail)
	}
	if e.RequestID != "req-789" {
		t.Errorf("RequestID = %q, want %q", e.RequestID, "req-789")
	}
}

func TestWithDetailPreservesUnderlying(t *testing.T) {
	inner := fmt.Errorf("root cause")
	e := Wrap(inner, 500, "wrapped").WithDetail("extra info")

	if e.Unwrap() != inner {
		t.Error("WithDetail should preserve underlying error")
	}
}

func TestIsGatewayError(t *testing.T) {
	t.Run("GatewayError", func(t *testing.T) {
		e := New(404, "Not Found")
		ge, ok := IsGatewayError(e)
		if !ok {
			t.Fatal("IsGatewayError should return true for GatewayError")
		}
		if ge.Code != 404 {
			t.Errorf("Code = %d, want 404", ge.Code)
		}
	})

	t.Run("regular error", func(t *testing.T) {
		_, ok := IsGatewayError(fmt.Errorf("regular error"))
		if ok {
			t.Error("IsGatewayError should return false for regular error")
		}
	})
}

func TestWriteJSON_PreSerialized(t *testing.T) {
	singletons := []*GatewayError{
		ErrNotFound, ErrMethodNotAllowed, ErrUnauthorized,
		ErrTooManyRequests, ErrBadGateway, ErrServiceUnavailable,
		ErrGatewayTimeout, ErrBadRequest, ErrUnprocessableEntity,
		ErrInternalServer, ErrRequestEntityTooLarge,
	}

	for _, e := range singletons {
		t.Run(e.Message, func(t *testing.T) {
			w := httptest.NewRecorder()
			e.WriteJSON(w)

			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if w.Code != e.Code {
				t.Errorf("status = %d, want %d", w.Code, e.Code)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if int(body["code"].(float64)) != e.Code {
				t.Errorf("body code = %v, want %d", body["code"], e.Code)
			}
		})
	}
}

func TestWriteJSON_WithDetail(t *testing.T) {
	e := ErrBadRequest.WithDetail("missing field 'route_id'").WithRequestID("req-abc")

	w := httptest.NewRecorder()
	e.WriteJSON(w)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["detail"] != "missing field 'route_id'" {
		t.Errorf("body detail = %v, want %q", body["detail"], "missing field 'route_id'")
	}
	if body["request_id"] != "req-abc" {
		t.Errorf("body request_id = %v, want %q", body["request_id"], "req-abc")
	}
}

func TestSingletonCodes(t *testing.T) {
	tests := []struct {
		err      *GatewayError
		wantCode int
		wantMsg  string
	}{
		{ErrNotFound, 404, "Not Found"},
		{ErrMethodNotAllowed, 405, "Method Not Allowed"},
		{ErrUnauthorized, 401, "Unauthorized"},
		{ErrTooManyRequests, 429, "Too Many Requests"},
		{ErrBadGateway, 502, "Bad Gateway"},
		{ErrServiceUnavailable, 503, "Service Unavailable"},
		{ErrGatewayTimeout, 504, "Gateway Timeout"},
		{ErrBadRequest, 400, "Bad Request"},
		{ErrUnprocessableEntity, 422, "Unprocessable Entity"},
		{ErrInternalServer, 500, "Internal Server Error"},
		{ErrRequestEntityTooLarge, 413, "Request Entity Too Large"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
		})
	}
}
