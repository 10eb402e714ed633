package utils

import (
	"errors"
	"net/http"
	"strings"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeTooLarge        Code = "PAYLOAD_TOO_LARGE"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeDataLoss        Code = "DATA_LOSS" // stored record cannot be decoded
	CodeBadGateway      Code = "BAD_GATEWAY"
	CodeInternal        Code = "INTERNAL"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDecode           = errors.New("stored record cannot be decoded")
)

var httpStatusByCode = map[Code]int{
	CodeInvalidArgument: http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeTooLarge:        http.StatusRequestEntityTooLarge,
	CodeUnavailable:     http.StatusServiceUnavailable,
	CodeTimeout:         http.StatusGatewayTimeout,
	CodeBadGateway:      http.StatusBadGateway,
}

// sentinel each code matches under errors.Is
var sentinelByCode = map[Code]error{
	CodeNotFound:    ErrNotFound,
	CodeUnavailable: ErrStoreUnavailable,
	CodeDataLoss:    ErrDecode,
}

// AppError carries a Code through every layer. Op names the failing
// operation ("SessionStore.Get"), Message is safe to show to clients.
type AppError struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Op, e.Message} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return strings.ToLower(string(e.Code))
	}
	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) Is(target error) bool {
	s, ok := sentinelByCode[e.Code]
	return ok && s == target
}

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout, CodeBadGateway, CodeConflict, CodeInternal:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	if s, ok := httpStatusByCode[CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
