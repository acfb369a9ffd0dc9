package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes state synchronization errors. Codes travel over the
// wire unchanged, so a client can match a server-side failure with
// errors.Is against the sentinels below.
type ErrorCode string

const (
	// CodeDuplicateSchema indicates a schema name was registered twice.
	CodeDuplicateSchema ErrorCode = "DUPLICATE_SCHEMA"

	// CodeInvalidDefinition indicates a malformed field descriptor.
	CodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"

	// CodeUnknownSchema indicates a lookup of an unregistered schema.
	CodeUnknownSchema ErrorCode = "UNKNOWN_SCHEMA"

	// CodeUnknownField indicates a write to a field the schema does not declare.
	CodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// CodeTypeCoercion indicates a value that cannot be converted to the field type.
	CodeTypeCoercion ErrorCode = "TYPE_COERCION"

	// CodeNotFound indicates no instance matches the request.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInstanceGone indicates the instance existed but has been deleted.
	CodeInstanceGone ErrorCode = "INSTANCE_GONE"

	// CodeDuplicateHook indicates a second update hook for one schema.
	CodeDuplicateHook ErrorCode = "DUPLICATE_HOOK"

	// CodeHookFailed indicates the update hook returned an error or panicked.
	CodeHookFailed ErrorCode = "HOOK_FAILED"

	// CodeProtocol indicates a malformed or unexpected message.
	CodeProtocol ErrorCode = "PROTOCOL"
)

// Error is the structured error returned by schema validation, the engine
// and the client mirror.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Schema names the schema involved, if any.
	Schema string `json:"schema,omitempty"`

	// Field names the offending field, if any.
	Field string `json:"field,omitempty"`

	// InstanceID identifies the instance involved, if any.
	InstanceID int64 `json:"instance_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Schema != "":
		return fmt.Sprintf("%s: %s (schema=%s, field=%s)", e.Code, e.Message, e.Schema, e.Field)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	case e.InstanceID != 0:
		return fmt.Sprintf("%s: %s (instance=%d)", e.Code, e.Message, e.InstanceID)
	case e.Schema != "":
		return fmt.Sprintf("%s: %s (schema=%s)", e.Code, e.Message, e.Schema)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching by code.
var (
	ErrDuplicateSchema   = &Error{Code: CodeDuplicateSchema, Message: "schema already registered"}
	ErrInvalidDefinition = &Error{Code: CodeInvalidDefinition, Message: "invalid schema definition"}
	ErrUnknownSchema     = &Error{Code: CodeUnknownSchema, Message: "unknown schema"}
	ErrUnknownField      = &Error{Code: CodeUnknownField, Message: "unknown field"}
	ErrTypeCoercion      = &Error{Code: CodeTypeCoercion, Message: "type coercion failed"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInstanceGone      = &Error{Code: CodeInstanceGone, Message: "instance deleted"}
	ErrDuplicateHook     = &Error{Code: CodeDuplicateHook, Message: "hook already registered"}
	ErrHookFailed        = &Error{Code: CodeHookFailed, Message: "update hook failed"}
	ErrProtocol          = &Error{Code: CodeProtocol, Message: "protocol error"}
)

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of the first *Error in err's chain.
// Returns "" if err carries no Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
