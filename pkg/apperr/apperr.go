package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound      = "not_found"
	CodeValidation    = "validation"
	CodeMisconfigured = "misconfigured"
	CodeGatewayFault  = "gateway_fault"
	CodePublishFault  = "publish_fault"
	CodeConsumeFault  = "consume_fault"
)

// Error carries the HTTP-equivalent status alongside a stable code so the
// boundary layer can map it without inspecting messages.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("error (%d)", e.Status)
	}
	return "error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Errorf(format, args...))
}

func Misconfigured(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, CodeMisconfigured, fmt.Errorf(format, args...))
}

func GatewayFault(err error) *Error {
	return New(http.StatusBadGateway, CodeGatewayFault, err)
}

func PublishFault(err error) *Error {
	return New(http.StatusInternalServerError, CodePublishFault, err)
}

func ConsumeFault(err error) *Error {
	return New(http.StatusInternalServerError, CodeConsumeFault, err)
}

func is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func IsNotFound(err error) bool      { return is(err, CodeNotFound) }
func IsValidation(err error) bool    { return is(err, CodeValidation) }
func IsMisconfigured(err error) bool { return is(err, CodeMisconfigured) }
func IsGatewayFault(err error) bool  { return is(err, CodeGatewayFault) }

// StatusOf resolves the HTTP status for any error; unrecognized errors are
// server faults.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the stable code, or empty for unrecognized errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
