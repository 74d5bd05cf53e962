package circulation

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInstanceUnavailable  Code = "INSTANCE_UNAVAILABLE"
	CodeUnpaidFines          Code = "UNPAID_FINES"
	CodeNoActiveLoan         Code = "NO_ACTIVE_LOAN"
	CodeDuplicateReservation Code = "DUPLICATE_RESERVATION"
	CodeCopiesAvailable      Code = "COPIES_AVAILABLE"
	CodeConflict             Code = "CONFLICT"
	CodeInternal             Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string       { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError   { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrForbidden(msg string) *APIError { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrConflict(msg string) *APIError  { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError  { return &APIError{Code: CodeInternal, Message: msg} }

func ErrUnavailable(msg string) *APIError {
	return &APIError{Code: CodeInstanceUnavailable, Message: msg}
}

func ErrUnpaidFines() *APIError {
	return &APIError{Code: CodeUnpaidFines, Message: "borrower has unpaid fines"}
}

func ErrNoActiveLoan(code string) *APIError {
	return &APIError{Code: CodeNoActiveLoan, Message: "no active loan for " + code}
}

func ErrDuplicateReservation() *APIError {
	return &APIError{Code: CodeDuplicateReservation, Message: "you already hold an active reservation for this book"}
}

func ErrCopiesAvailable() *APIError {
	return &APIError{Code: CodeCopiesAvailable, Message: "copies are available, borrow one instead"}
}

// CodeOf returns the API code of err, or INTERNAL.
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInstanceUnavailable, CodeUnpaidFines, CodeNoActiveLoan,
		CodeDuplicateReservation, CodeCopiesAvailable, CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
