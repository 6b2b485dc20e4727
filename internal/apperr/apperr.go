// Package apperr defines the error kinds returned by the platform services and
// how they map onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator"
	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindNotFound       Kind = "NOT_FOUND"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConflict       Kind = "CONFLICT"
	KindStorageFailure Kind = "STORAGE_FAILURE"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindInternal       Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality, so errors.Is(err, apperr.ErrNotFound) matches any
// NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrStorageFailure = &Error{Kind: KindStorageFailure}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func StorageFailure(message string, cause error) *Error {
	return Wrap(KindStorageFailure, message, cause)
}

// Invalid builds a validation error for a single field.
func Invalid(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "Validation failed",
		Fields:  map[string]string{field: message},
	}
}

// FromValidator converts go-playground validation errors into a field map
// keyed by fe.Field(), which is the json name when the validator has a json
// tag-name func registered. Any other error is returned as an internal error.
func FromValidator(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(KindInternal, "validation could not run", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}

	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "alphanumunicode", "username":
		return "contains invalid characters"
	case "date":
		return "must be a date in YYYY-MM-DD form"
	default:
		return fmt.Sprintf("is %s", fe.Tag())
	}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Status(kind Kind) int {
	switch kind {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindValidation:
		return fiber.StatusBadRequest
	case KindConflict:
		return fiber.StatusConflict
	case KindStorageFailure:
		return fiber.StatusBadGateway
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// Body renders err as the JSON payload sent to clients. Internal causes are
// never exposed.
func Body(err error) fiber.Map {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return fiber.Map{"message": "Internal server error"}
	}

	body := fiber.Map{"message": e.Message}
	if len(e.Fields) > 0 {
		body["errors"] = e.Fields
	}
	return body
}

// FieldNames returns the sorted field names of a validation error.
func FieldNames(err error) []string {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
