package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ── ParsePagination ──────────────────────────────────────────────────

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", DefaultPageLimit, 0, false},
		{"valid_custom", "limit=25&offset=10", 25, 10, false},
		{"limit_over_max", "limit=2000", 0, 0, true},
		{"limit_zero", "limit=0", 0, 0, true},
		{"negative_offset", "offset=-5", 0, 0, true},
		{"non_numeric", "limit=abc", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p, err := ParsePagination(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestPaginationPage(t *testing.T) {
	tests := []struct {
		name               string
		p                  Pagination
		n                  int
		wantStart, wantEnd int
	}{
		{"first_page", Pagination{Limit: 2}, 5, 0, 2},
		{"last_partial_page", Pagination{Limit: 2, Offset: 4}, 5, 4, 5},
		{"offset_past_end", Pagination{Limit: 2, Offset: 9}, 5, 5, 5},
		{"empty", Pagination{Limit: 50}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.p.Page(tt.n)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("Page(%d) = %d, %d; want %d, %d", tt.n, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

// ── QueryStringList ──────────────────────────────────────────────────

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest("GET", "/?types=analysis,%20suppressed,,", nil)
	got := QueryStringList(req, "types")
	if len(got) != 2 || got[0] != "analysis" || got[1] != "suppressed" {
		t.Errorf("QueryStringList = %q", got)
	}
	if got := QueryStringList(req, "missing"); got != nil {
		t.Errorf("missing param = %q, want nil", got)
	}
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
	t.Run("unknown_field", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a","extra":1}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for unknown field")
		}
	})
	t.Run("trailing_data", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a"} {"name":"b"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for trailing data")
		}
	})
	t.Run("oversized_body", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))
		var dst struct {
			Name string `json:"name"`
		}
		err := DecodeJSON(req, &dst)
		if err == nil || !strings.Contains(err.Error(), "exceeds") {
			t.Errorf("expected size error, got %v", err)
		}
	})
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "validation failed", "name is required")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("Error = %q, want %q", body.Error, "validation failed")
	}
	if body.Detail != "name is required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "name is required")
	}
}
