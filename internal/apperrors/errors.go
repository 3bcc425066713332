// Package apperrors defines the error taxonomy shared by the chat core and
// the HTTP and websocket surfaces.
package apperrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidToken    Code = "invalid_token"
	CodeInvalidChatID   Code = "invalid_chat_id"
	CodeCrypto          Code = "crypto_error"
	CodeStorage         Code = "storage_error"
	CodeNotFound        Code = "not_found"
	CodeInvalidArgument Code = "invalid_argument"
	CodeForbidden       Code = "forbidden"
	CodeInternal        Code = "internal"
)

// AppError carries a machine readable code and an optional cause.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError with the same code, so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

var (
	ErrInvalidToken  = New(CodeInvalidToken, "invalid_token")
	ErrInvalidChatID = New(CodeInvalidChatID, "invalid_chat_id")
	ErrCrypto        = New(CodeCrypto, "crypto failure")
	ErrStorage       = New(CodeStorage, "storage failure")
	ErrNotFound      = New(CodeNotFound, "not found")
	ErrInvalidArg    = New(CodeInvalidArgument, "invalid argument")
	ErrForbidden     = New(CodeForbidden, "forbidden")
)

// Auth reports a handshake stage 1 failure.
func Auth(cause error) error {
	return Wrap(CodeInvalidToken, "invalid_token", cause)
}

// Authorization reports a handshake stage 2 failure.
func Authorization(cause error) error {
	return Wrap(CodeInvalidChatID, "invalid_chat_id", cause)
}

func Crypto(message string, cause error) error {
	return Wrap(CodeCrypto, message, cause)
}

func Storage(message string, cause error) error {
	return Wrap(CodeStorage, message, cause)
}

func NotFound(message string) error {
	return New(CodeNotFound, message)
}

func InvalidArg(message string) error {
	return New(CodeInvalidArgument, message)
}

func Forbidden(message string) error {
	return New(CodeForbidden, message)
}

func Internal(message string, cause error) error {
	return Wrap(CodeInternal, message, cause)
}

// CodeOf returns the code of the first AppError in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
