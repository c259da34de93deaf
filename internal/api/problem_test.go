package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/validation"
)

func TestWriteProblem_BodyFormat(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)

	WriteProblem(w, r, http.StatusNotFound, "Queue item not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", ct)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if p.Type != "https://fieldsync.dev/errors/not-found" {
		t.Errorf("type = %v, want https://fieldsync.dev/errors/not-found", p.Type)
	}
	if p.Title != "Not Found" {
		t.Errorf("title = %v, want Not Found", p.Title)
	}
	if p.Detail != "Queue item not found" {
		t.Errorf("detail = %v", p.Detail)
	}
	if p.Instance != "/api/v1/queue" {
		t.Errorf("instance = %v, want /api/v1/queue", p.Instance)
	}
}

func TestWriteProblem_Types(t *testing.T) {
	tests := []struct {
		status   int
		wantType string
	}{
		{http.StatusBadRequest, "https://fieldsync.dev/errors/bad-request"},
		{http.StatusUnprocessableEntity, "https://fieldsync.dev/errors/validation-error"},
		{http.StatusServiceUnavailable, "https://fieldsync.dev/errors/service-unavailable"},
		{http.StatusTeapot, "https://fieldsync.dev/errors/unknown"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteProblem(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.status, "x")

			var p Problem
			if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if p.Type != tt.wantType {
				t.Errorf("type = %v, want %v", p.Type, tt.wantType)
			}
			if p.Title == "" {
				t.Error("title is empty")
			}
		})
	}
}

func TestWriteProblemWithErrors_422(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/register", nil)

	WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
		{Field: "latitude", Message: "must be between -90.0 and 90.0"},
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}

	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "latitude" {
		t.Errorf("errors = %+v, want one latitude error", p.Errors)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation errors",
			err:        validation.Errors{{Field: "tree_id", Message: "is required"}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "storage failure",
			err:        fmt.Errorf("queue: %w", &kv.StorageError{Op: "set", Key: "fieldsync:queue", Err: errors.New("disk full")}),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unknown error",
			err:        errors.New("sql: connection refused at 10.0.0.1"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			MapError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if strings.Contains(w.Body.String(), "10.0.0.1") || strings.Contains(w.Body.String(), "disk full") {
				t.Error("internal error details leaked into the response")
			}
		})
	}
}
