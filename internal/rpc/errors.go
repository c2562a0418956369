package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client closed")
	ErrConnecting   = errors.New("connection attempt already in progress")
)

// ErrorType classifies a request failure for the error continuation.
type ErrorType int

const (
	ErrNone ErrorType = iota
	ErrTimeout
	ErrConnectionLost
	ErrJSONRPC
	ErrParse
	ErrValidation
	ErrNotReady
	ErrFileNotFound
	ErrPermissionDenied
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrNone:
		return "none"
	case ErrTimeout:
		return "timeout"
	case ErrConnectionLost:
		return "connection_lost"
	case ErrJSONRPC:
		return "jsonrpc_error"
	case ErrParse:
		return "parse_error"
	case ErrValidation:
		return "validation_error"
	case ErrNotReady:
		return "not_ready"
	case ErrFileNotFound:
		return "file_not_found"
	case ErrPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// RPCError is the failure handed to a request's error continuation.
type RPCError struct {
	Type    ErrorType
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Type)
}

// Method-not-found per the JSON-RPC 2.0 spec. The daemon reports an unknown
// or misspelled method with this code, which callers treat as a validation
// failure on their side.
const codeMethodNotFound = -32601

// classifyError maps a raw JSON-RPC error object onto the taxonomy: first by
// numeric code, then by known message phrases, falling back to a generic
// JSON-RPC error.
func classifyError(method string, obj *ErrorObject) *RPCError {
	typ := ErrJSONRPC
	switch {
	case obj.Code == codeMethodNotFound:
		typ = ErrValidation
	case strings.Contains(obj.Message, "not ready"):
		typ = ErrNotReady
	case strings.Contains(obj.Message, "File not found"):
		typ = ErrFileNotFound
	case strings.Contains(obj.Message, "Permission denied"):
		typ = ErrPermissionDenied
	}

	return &RPCError{
		Type:    typ,
		Method:  method,
		Code:    obj.Code,
		Message: obj.Message,
		Data:    obj.Data,
	}
}

func timeoutError(method string) *RPCError {
	return &RPCError{Type: ErrTimeout, Method: method, Message: "request timed out"}
}

func connectionLostError(method string) *RPCError {
	return &RPCError{Type: ErrConnectionLost, Method: method, Message: "connection lost"}
}
