package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a normalized backend failure.
type Error struct {
	// Status is the backend's HTTP status, or 500 when no response arrived.
	Status int
	// Message prefers the reply's "message" (or the proxy's "error") over
	// transport text.
	Message string
	// Details is the backend's JSON error body, when it sent one.
	Details json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// AsError extracts an *Error from err, wrapping foreign errors as a 500.
func AsError(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Status: http.StatusInternalServerError, Message: err.Error()}
}

func transportError(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: err.Error()}
}

func statusError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if json.Valid(body) {
		e.Details = json.RawMessage(body)
		if err := json.Unmarshal(body, &payload); err == nil {
			e.Message = messageText(payload.Message)
			if e.Message == "" {
				e.Message = messageText(payload.Error)
			}
			if e.Message == "" {
				e.Message = payload.Detail
			}
		}
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("Request failed with status code %d", status)
	}
	return e
}

// messageText accepts a string message or a list of strings, as validation
// frameworks tend to send.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		out := list[0]
		for _, m := range list[1:] {
			out += "; " + m
		}
		return out
	}
	return string(raw)
}
