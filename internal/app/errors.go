package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"archboard/api/internal/auth"
	"archboard/api/internal/store"
)

// DomainError is an error with a stable code that handlers return verbatim
// in the error envelope.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func conflict(code, message string) *DomainError {
	return domainError(http.StatusConflict, code, message, nil)
}

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authorization", nil)
	errServer       = domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
)

// asDomainError resolves any error returned by the service layer to the
// envelope it is reported with. Unknown errors become SERVER_ERROR.
func asDomainError(err error) *DomainError {
	var de *DomainError
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Resource")
	case errors.Is(err, store.ErrConflict):
		return conflict("CONFLICT", "Conflicting update")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return errUnauthorized
	}
	return errServer
}

func mapError(err error) (status int, code, message string, details any) {
	de := asDomainError(err)
	return de.Status, de.Code, de.Message, de.Details
}
