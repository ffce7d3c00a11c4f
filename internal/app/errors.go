package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a defined HTTP mapping. Anything else that
// reaches the transport is reported as a server error.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(code, message, id string) *DomainError {
	return domainError(http.StatusNotFound, code, message, map[string]any{"id": id})
}

func badRequest(code, message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, code, message, details)
}
