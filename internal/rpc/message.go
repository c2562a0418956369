package rpc

import (
	"encoding/json"
	"errors"
	"strconv"
)

// jsonrpcVersion is stamped on every outgoing envelope.
const jsonrpcVersion = "2.0"

// DefaultMaxFrameSize bounds inbound frames. An oversized frame is a
// protocol fault and forces a disconnect.
const DefaultMaxFrameSize = 5 * 1024 * 1024

// request is the outgoing JSON-RPC envelope. Params is omitted when nil.
type request struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is a server reply correlated to an outgoing request by id.
// Exactly one of Result and Error is meaningful.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *ErrorObject
}

// Notification is a server-initiated message with no id. Params is the raw
// positional argument array.
type Notification struct {
	Method string
	Params json.RawMessage
}

// inbound is the superset shape of every frame the daemon can send.
type inbound struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorObject    `json:"error"`
}

var errUnroutableFrame = errors.New("frame carries neither an id nor a method")

// parseFrame splits a raw frame into a response (id present) or a
// notification (method present, no id). A frame with a non-integer id is
// malformed and dropped at this boundary.
func parseFrame(data []byte) (*Response, *Notification, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, nil, err
	}

	if len(in.ID) > 0 && string(in.ID) != "null" {
		id, err := strconv.ParseUint(string(in.ID), 10, 64)
		if err != nil {
			return nil, nil, errors.New("response id is not an integer")
		}
		return &Response{ID: id, Result: in.Result, Error: in.Error}, nil, nil
	}

	if in.Method != "" {
		return nil, &Notification{Method: in.Method, Params: in.Params}, nil
	}

	return nil, nil, errUnroutableFrame
}

// normalizeParams maps empty params onto nil so the field is omitted from
// the envelope.
func normalizeParams(params any) any {
	if params == nil {
		return nil
	}
	if m, ok := params.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return params
}
