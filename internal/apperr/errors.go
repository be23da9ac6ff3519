package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type Code string

const (
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeOutOfStock        Code = "OUT_OF_STOCK"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeStockConflict     Code = "STOCK_CONFLICT"
	CodeTemporaryFailure  Code = "TEMPORARY_FAILURE"
	CodeValidation        Code = "VALIDATION_ERROR"
)

// Metadata describes how a code is surfaced to callers.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeUnauthenticated:   {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeUnauthorized:      {HTTPStatus: http.StatusForbidden, PublicMessage: "operation not permitted"},
	CodeNotFound:          {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeOutOfStock:        {HTTPStatus: http.StatusConflict, PublicMessage: "requested quantity exceeds stock"},
	CodeInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "cart exceeds available stock"},
	CodeInvalidState:      {HTTPStatus: http.StatusConflict, PublicMessage: "order is not in a state that allows this operation"},
	CodeInvalidTransition: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "status transition disallowed"},
	CodeStockConflict:     {HTTPStatus: http.StatusConflict, PublicMessage: "stock no longer covers this order"},
	CodeTemporaryFailure:  {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "temporary failure, retry later"},
	CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeTemporaryFailure]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeTemporaryFailure
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Retryable reports whether the caller may safely repeat the operation.
func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the taxonomy code of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeTemporaryFailure
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Temporary passes taxonomy errors through and wraps anything else as a
// retryable collaborator failure.
func Temporary(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTemporaryFailure, err, message+": timed out")
	}
	return Wrap(CodeTemporaryFailure, err, message)
}

// StockShortage names a product whose stock cannot cover a requested quantity.
type StockShortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// TransitionDetails accompanies CodeInvalidTransition and CodeInvalidState.
type TransitionDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}
