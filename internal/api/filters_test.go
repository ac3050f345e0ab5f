package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lei/actions-ledger/internal/models"
)

func TestParseRunFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    models.RunFilter
		wantErr bool
	}{
		{"defaults", "", models.RunFilter{Limit: defaultListLimit}, false},
		{"all filters", "status=completed&conclusion=failure&branch=main&limit=10&offset=20",
			models.RunFilter{Status: "completed", Conclusion: "failure", Branch: "main", Limit: 10, Offset: 20}, false},
		{"limit clamped", "limit=100000", models.RunFilter{Limit: maxListLimit}, false},
		{"bad limit", "limit=abc", models.RunFilter{}, true},
		{"zero limit", "limit=0", models.RunFilter{}, true},
		{"negative offset", "offset=-1", models.RunFilter{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/workflows/1/runs?"+tt.query, nil)
			got, err := parseRunFilter(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRunFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseRunFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFileSearch(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    models.FileSearch
		wantErr bool
	}{
		{"query only", "q=report", models.FileSearch{Query: "report", Limit: defaultListLimit}, false},
		{"type and run", "q=x&file_type=JSON&run_id=42&limit=5",
			models.FileSearch{Query: "x", FileType: models.FileTypeJSON, RunID: 42, Limit: 5}, false},
		{"missing query", "file_type=json", models.FileSearch{}, true},
		{"blank query", "q=%20%20", models.FileSearch{}, true},
		{"unknown type", "q=x&file_type=video", models.FileSearch{}, true},
		{"bad run id", "q=x&run_id=-3", models.FileSearch{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/files/search?"+tt.query, nil)
			got, err := parseFileSearch(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFileSearch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFileSearch() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIDParam(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int64
		wantErr bool
	}{
		{"valid", "123", 123, false},
		{"zero", "0", 0, true},
		{"text", "abc", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("run_id", tt.value)
			r := httptest.NewRequest("GET", "/", nil)
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

			got, err := idParam(r, "run_id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("idParam() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("idParam() = %d, want %d", got, tt.want)
			}
		})
	}
}
