package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) hold for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// responseError builds an APIError, preferring the server's detail or
// message field over the raw body.
func responseError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var detail string
		switch {
		case json.Unmarshal(payload.Detail, &detail) == nil && detail != "":
			msg = detail
		case payload.Message != "":
			msg = payload.Message
		case len(payload.Detail) > 0 && string(payload.Detail) != "null":
			msg = string(payload.Detail)
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: msg}
}
