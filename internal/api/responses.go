package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// MaxPageLimit caps the limit query parameter.
const MaxPageLimit = 500

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// Pagination is a limit/offset window over a newest-first listing.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultPageLimit applies when ?limit is absent.
const DefaultPageLimit = 50

// ParsePagination reads ?limit (1..MaxPageLimit) and ?offset (>= 0).
func ParsePagination(r *http.Request) (Pagination, error) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit", DefaultPageLimit, 1, MaxPageLimit)
	if err != nil {
		return Pagination{}, err
	}
	offset, err := queryInt(q.Get("offset"), "offset", 0, 0, math.MaxInt)
	if err != nil {
		return Pagination{}, err
	}
	return Pagination{Limit: limit, Offset: offset}, nil
}

func queryInt(v, name string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	if n < lo || n > hi {
		if hi == math.MaxInt {
			return 0, fmt.Errorf("invalid %s %d: must be >= %d", name, n, lo)
		}
		return 0, fmt.Errorf("invalid %s %d: must be between %d and %d", name, n, lo, hi)
	}
	return n, nil
}

// Page returns the [offset, offset+limit) window of a slice of length n.
func (p Pagination) Page(n int) (start, end int) {
	start = min(p.Offset, n)
	end = min(start+p.Limit, n)
	return start, end
}

// QueryStringList splits a comma-separated query parameter, dropping blanks.
func QueryStringList(r *http.Request, name string) []string {
	var result []string
	for _, p := range strings.Split(r.URL.Query().Get(name), ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// DecodeJSON decodes a single JSON object from the request body into v.
// Unknown fields and trailing data are rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("missing request body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", MaxBodyBytes)
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}
