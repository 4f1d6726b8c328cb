package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Body(t *testing.T) {
	rec := httptest.NewRecorder()
	Overlap(rec, "пересечение с rec-1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело не JSON: %v", err)
	}
	if body.Error.Code != CodeOverlap || body.Error.Message != "пересечение с rec-1" {
		t.Errorf("тело = %+v", body.Error)
	}
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		fn     func(http.ResponseWriter, string)
		status int
	}{
		{InputError, http.StatusBadRequest},
		{ValidationError, http.StatusBadRequest},
		{Duplicate, http.StatusBadRequest},
		{ServiceNotFound, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{StorageUnavailable, http.StatusInternalServerError},
		{DatabaseError, http.StatusInternalServerError},
		{InternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.fn(rec, "x")
		if rec.Code != tt.status {
			t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
		}
	}
}
