// Package rpc implements the kernel's JSON-RPC 2.0 tool surface: the
// wire envelope, the standard error codes, and the stdio and websocket
// transports that carry it.
package rpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one incoming JSON-RPC message. ID stays raw so number and
// string ids echo back byte-identically.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one outgoing JSON-RPC message. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObj       `json:"error,omitempty"`
}

// ErrorObj is the JSON-RPC error member. It doubles as a Go error so
// handlers can return coded failures directly.
type ErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObj) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Errorf builds a coded error.
func Errorf(code int, format string, args ...any) *ErrorObj {
	return &ErrorObj{Code: code, Message: fmt.Sprintf(format, args...)}
}

// nullID is the id used when a request carried no usable id.
var nullID = json.RawMessage("null")

// hasID reports whether raw is a usable request id (present, non-null).
func hasID(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// result builds a success response for id.
func result(id json.RawMessage, v any) *Response {
	if !hasID(id) {
		id = nullID
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

// failure builds an error response for id.
func failure(id json.RawMessage, e *ErrorObj) *Response {
	if !hasID(id) {
		id = nullID
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: e}
}
