package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/forgo/somi/api/internal/model"
)

// DataResponse wraps a successful response with optional HATEOAS links
type DataResponse struct {
	Data  any               `json:"data"`
	Links map[string]string `json:"_links,omitempty"`
}

// CollectionResponse wraps a collection response with pagination
type CollectionResponse struct {
	Data       any               `json:"data"`
	Pagination *PaginationInfo   `json:"pagination,omitempty"`
	Links      map[string]string `json:"_links,omitempty"`
}

// PaginationInfo contains cursor-based pagination info
type PaginationInfo struct {
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteData writes a successful data response
func WriteData(w http.ResponseWriter, status int, data any, links map[string]string) {
	WriteJSON(w, status, DataResponse{Data: data, Links: links})
}

// WriteCollection writes a collection response with pagination
func WriteCollection(w http.ResponseWriter, status int, data any, pagination *PaginationInfo, links map[string]string) {
	WriteJSON(w, status, CollectionResponse{Data: data, Pagination: pagination, Links: links})
}

// WriteError writes an error response using RFC 9457 Problem Details
func WriteError(w http.ResponseWriter, err *model.ProblemDetails) {
	err.WriteJSON(w)
}

// DecodeJSON decodes a JSON request body into the given struct
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// parseAsOf reads the as_of query parameter as RFC 3339 or unix seconds.
// A missing value yields the zero time, which services treat as now.
func parseAsOf(r *http.Request) (time.Time, *model.ProblemDetails) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, model.NewValidationError([]model.FieldError{{
			Field: "as_of", Message: "as_of must be RFC 3339 or unix seconds",
		}})
	}
	return t.UTC(), nil
}

// parsePage reads cursor/size query parameters. The cursor is an opaque
// offset into the listing.
func parsePage(r *http.Request, defaultSize, maxSize int) (offset, size int, pd *model.ProblemDetails) {
	q := r.URL.Query()
	size = defaultSize
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, 0, model.NewValidationError([]model.FieldError{{Field: "size", Message: "size must be a positive integer"}})
		}
		size = min(n, maxSize)
	}
	if raw := q.Get("cursor"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, model.NewBadRequestError("invalid cursor")
		}
		offset = n
	}
	return offset, size, nil
}

func nextPage(offset, size, got int) *PaginationInfo {
	if got < size {
		return &PaginationInfo{HasMore: false}
	}
	return &PaginationInfo{Cursor: strconv.Itoa(offset + got), HasMore: true}
}
