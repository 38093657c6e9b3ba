package app

import (
	"errors"
	"fmt"
	"net/http"

	"prearrival/api/internal/auth"
	"prearrival/api/internal/blobstore"
	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/export"
	"prearrival/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validation *checklist.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Message, map[string]any{"field": validation.Field}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "REQUEST_NOT_FOUND", "Request not found", nil
	case errors.Is(err, catalog.ErrUnknownDefinition):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Unknown document", nil
	case errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound, "FILE_NOT_FOUND", "File not found", nil
	case errors.Is(err, checklist.ErrNotFiled):
		return http.StatusConflict, "NOT_FILED", "No file has been uploaded for this document", nil
	case errors.Is(err, checklist.ErrNotReviewable):
		return http.StatusConflict, "NOT_REVIEWABLE", "Office documents are not reviewed", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf, docx or html", map[string]any{"field": "format"}
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
