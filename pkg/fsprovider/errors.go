package fsprovider

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorCode is FS9's closed error taxonomy (§4.1, §7). Unlike an open,
// numeric-range error system, every provider and every router operation
// returns one of exactly these kinds.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	CodeIsDirectory       ErrorCode = "IS_DIRECTORY"
	CodeNotDirectory      ErrorCode = "NOT_DIRECTORY"
	CodeDirectoryNotEmpty ErrorCode = "DIRECTORY_NOT_EMPTY"
	CodeInvalidHandle     ErrorCode = "INVALID_HANDLE"
	CodeNotImplemented    ErrorCode = "NOT_IMPLEMENTED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeTooManyHops       ErrorCode = "TOO_MANY_HOPS"
	CodeInternal          ErrorCode = "INTERNAL"
)

// httpStatusByCode is the fixed mapping of §7.
var httpStatusByCode = map[ErrorCode]int{
	CodeNotFound:          404,
	CodeAlreadyExists:     409,
	CodePermissionDenied:  403,
	CodeIsDirectory:       400,
	CodeNotDirectory:      400,
	CodeDirectoryNotEmpty: 400,
	CodeInvalidHandle:     400,
	CodeInvalidInput:      400,
	CodeNotImplemented:    501,
	CodeTooManyHops:       508,
	CodeInternal:          500,
}

// FsError is the error type every FsProvider method and the VFS router
// return. It carries enough context to log and to translate to an HTTP
// response at the boundary without losing information in between.
type FsError struct {
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
	Cause      error             `json:"-"`
	Timestamp  time.Time         `json:"timestamp"`
	Component  string            `json:"component,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	HTTPStatus int               `json:"-"`
}

func (e *FsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FsError) Unwrap() error {
	return e.Cause
}

// Is makes FsError comparable by Code via errors.Is.
func (e *FsError) Is(target error) bool {
	other, ok := target.(*FsError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

func (e *FsError) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewError constructs an FsError, deriving its HTTP status from the fixed
// §7 table.
func NewError(code ErrorCode, message string) *FsError {
	status, ok := httpStatusByCode[code]
	if !ok {
		status = 500
	}
	return &FsError{
		Code:       code,
		Message:    message,
		Timestamp:  time.Now(),
		HTTPStatus: status,
	}
}

func (e *FsError) WithContext(key, value string) *FsError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *FsError) WithCause(err error) *FsError {
	e.Cause = err
	return e
}

func (e *FsError) WithComponent(component string) *FsError {
	e.Component = component
	return e
}

func (e *FsError) WithOperation(operation string) *FsError {
	e.Operation = operation
	return e
}

// Convenience constructors mirroring the nine-operation contract's
// documented error kinds (§4.1).
func NotFound(path string) *FsError {
	return NewError(CodeNotFound, fmt.Sprintf("not found: %s", path))
}

func AlreadyExists(path string) *FsError {
	return NewError(CodeAlreadyExists, fmt.Sprintf("already exists: %s", path))
}

func PermissionDenied(path string) *FsError {
	return NewError(CodePermissionDenied, fmt.Sprintf("permission denied: %s", path))
}

func IsDirectory(path string) *FsError {
	return NewError(CodeIsDirectory, fmt.Sprintf("is a directory: %s", path))
}

func NotDirectory(path string) *FsError {
	return NewError(CodeNotDirectory, fmt.Sprintf("not a directory: %s", path))
}

func DirectoryNotEmpty(path string) *FsError {
	return NewError(CodeDirectoryNotEmpty, fmt.Sprintf("directory not empty: %s", path))
}

func InvalidHandle(h Handle) *FsError {
	return NewError(CodeInvalidHandle, fmt.Sprintf("invalid handle: %d", h))
}

func NotImplemented(operation string) *FsError {
	return NewError(CodeNotImplemented, fmt.Sprintf("not implemented: %s", operation))
}

func InvalidInput(message string) *FsError {
	return NewError(CodeInvalidInput, message)
}

func TooManyHops() *FsError {
	return NewError(CodeTooManyHops, "too many proxy hops")
}

func Internal(message string) *FsError {
	return NewError(CodeInternal, message)
}

// HTTPStatus returns the status code for any error: the declared status
// for an *FsError, or 500 for anything else (the boundary should not leak
// unstructured errors, but this is the safe fallback).
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	var fsErr *FsError
	if as(err, &fsErr) {
		return fsErr.HTTPStatus
	}
	return 500
}

// as is a tiny errors.As wrapper kept local to avoid importing the
// standard errors package purely for this one call site elsewhere too.
func as(err error, target **FsError) bool {
	for err != nil {
		if fe, ok := err.(*FsError); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
