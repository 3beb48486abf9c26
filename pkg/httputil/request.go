package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
)

// ParseJSON decodes the request body into dest. Unknown fields and trailing
// data are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return domainerr.New(domainerr.CodeInvalidInput, "request body is required")
		}
		return domainerr.Wrap(err, domainerr.CodeInvalidInput, fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return domainerr.New(domainerr.CodeInvalidInput, "invalid JSON: trailing data")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("missing path parameter: %s", key))
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("invalid id for %s: %s", key, str))
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("invalid integer for query param %s: %s", key, str))
	}
	return val, nil
}

// ParseQueryInt64Ptr parses an optional int64 query parameter
func ParseQueryInt64Ptr(r *http.Request, key string) (*int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("invalid integer for query param %s: %s", key, str))
	}
	return &val, nil
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("invalid boolean for query param %s: %s", key, str))
	}
	return val, nil
}

// ParseQueryTime parses an optional RFC 3339 query parameter
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("invalid RFC 3339 time for query param %s: %s", key, str))
	}
	return &val, nil
}
