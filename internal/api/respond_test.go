package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %s", ct)
	}

	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if !env.Success {
		t.Error("expected success=true")
	}
	if env.Error != nil {
		t.Errorf("expected no error body, got %+v", env.Error)
	}
}

func TestError(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, http.StatusNotFound, CodeNotFound, "order not found")

		var env Envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode envelope: %v", err)
		}
		if env.Success {
			t.Error("expected success=false")
		}
		if env.Error == nil || env.Error.Code != CodeNotFound {
			t.Errorf("expected code %s, got %+v", CodeNotFound, env.Error)
		}
	})

	t.Run("error with details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ErrorDetails(rec, http.StatusBadRequest, CodeInsufficient, "insufficient points",
			map[string]any{"availablePoints": 550})

		var env Envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode envelope: %v", err)
		}
		if env.Error.Details["availablePoints"] != float64(550) {
			t.Errorf("expected availablePoints 550, got %v", env.Error.Details["availablePoints"])
		}
	})
}

func TestPaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	Paginated(rec, http.StatusOK, []string{"a", "b"}, Meta{Page: 1, PerPage: 20, Total: 2})

	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if env.Meta == nil || env.Meta.Total != 2 {
		t.Errorf("expected meta total 2, got %+v", env.Meta)
	}
}
