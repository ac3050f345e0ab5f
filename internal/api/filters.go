package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lei/actions-ledger/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseRunFilter builds a run listing filter from query parameters
func parseRunFilter(r *http.Request) (models.RunFilter, error) {
	q := r.URL.Query()
	f := models.RunFilter{
		Status:     strings.TrimSpace(q.Get("status")),
		Conclusion: strings.TrimSpace(q.Get("conclusion")),
		Branch:     strings.TrimSpace(q.Get("branch")),
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return f, err
	}
	f.Limit = limit

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
		f.Offset = offset
	}
	return f, nil
}

// parseFileSearch builds a file search from query parameters; q is required
func parseFileSearch(r *http.Request) (models.FileSearch, error) {
	q := r.URL.Query()
	s := models.FileSearch{Query: strings.TrimSpace(q.Get("q"))}
	if s.Query == "" {
		return s, fmt.Errorf("missing query parameter q")
	}

	if v := q.Get("file_type"); v != "" {
		ft, ok := parseFileType(v)
		if !ok {
			return s, fmt.Errorf("invalid file_type %q", v)
		}
		s.FileType = ft
	}

	if v := q.Get("run_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return s, fmt.Errorf("invalid run_id %q", v)
		}
		s.RunID = id
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return s, err
	}
	s.Limit = limit
	return s, nil
}

// parseLimit parses a limit parameter, applying the default and the maximum
func parseLimit(value string) (int, error) {
	if value == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", value)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func parseFileType(value string) (models.FileType, bool) {
	switch ft := models.FileType(strings.ToLower(value)); ft {
	case models.FileTypeImage, models.FileTypeJSON, models.FileTypeText, models.FileTypeBinary:
		return ft, true
	}
	return "", false
}

// idParam parses a positive integer URL parameter
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}
