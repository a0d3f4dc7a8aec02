// Package rpc implements the gateway's RPC surface: request/response/event
// frames, the per-method authorizer with the tenant allow-list, JSON Schema
// parameter validation, and the dispatcher that routes frames to handlers.
package rpc

import "encoding/json"

// RequestFrame is one inbound RPC call. The id is echoed verbatim in the
// response so clients may use strings or numbers.
type RequestFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the reply to one RequestFrame.
type ResponseFrame struct {
	ID      json.RawMessage `json:"id"`
	OK      bool            `json:"ok"`
	Payload any             `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`
}

// EventFrame is a server-initiated broadcast.
type EventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}
