package activities

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NetworkError means the request never produced a usable response: it could
// not be sent, or a successful response body could not be parsed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServiceError is a non-2xx response. Detail holds the service's `detail`
// field and may be empty.
type ServiceError struct {
	Op     string
	Status int
	Detail string
}

func (e *ServiceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
}

// newServiceError extracts `detail` on a best-effort basis. FastAPI-style
// validation errors carry a list there, which is not user-facing text.
func newServiceError(op string, status int, body []byte) *ServiceError {
	var res struct {
		Detail json.RawMessage `json:"detail"`
	}
	se := &ServiceError{Op: op, Status: status}
	if err := json.Unmarshal(body, &res); err != nil || len(res.Detail) == 0 {
		return se
	}
	var detail string
	if err := json.Unmarshal(res.Detail, &detail); err == nil {
		se.Detail = detail
	}
	return se
}

// DetailOf returns the service-supplied detail carried by err, if any.
func DetailOf(err error) (string, bool) {
	var se *ServiceError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail, true
	}
	return "", false
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
