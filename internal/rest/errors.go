package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means no usable response arrived (DNS, connect, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is any 5xx response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// ClientError is a 4xx response without structured field errors.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("request failed %d: %s", e.Status, e.Message)
}

// ValidationError is a 4xx response carrying per-field errors.
type ValidationError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed %d: %s (%d fields)", e.Status, e.Message, len(e.Fields))
}

// IsAuth reports whether err is an authentication failure (401).
func IsAuth(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status == http.StatusUnauthorized
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Status == http.StatusUnauthorized
	}
	return false
}

// apiErrorBody is the error payload shape the API uses.
type apiErrorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

func classify(status int, body apiErrorBody) error {
	switch {
	case status >= 500:
		return &ServerError{Status: status, Message: body.Message}
	case len(body.Errors) > 0:
		return &ValidationError{Status: status, Message: body.Message, Fields: body.Errors}
	default:
		return &ClientError{Status: status, Message: body.Message}
	}
}
