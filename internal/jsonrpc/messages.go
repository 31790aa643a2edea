package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// Response represents a JSON-RPC response. Exactly one of Result and Error
// is set; ID is always serialized, as null when unknown.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// ParseRequest decodes a single request object. The returned *Error carries
// ErrorCodeParseError for malformed JSON and ErrorCodeInvalidRequest for
// well-formed JSON that is not a valid request; the partially decoded ID is
// returned alongside so the caller can echo it.
func ParseRequest(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &Error{Code: ErrorCodeParseError, Message: "Parse error"}
	}
	if !json.Valid(trimmed) {
		return nil, &Error{Code: ErrorCodeParseError, Message: "Parse error"}
	}
	if trimmed[0] != '{' {
		return nil, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: expected a single request object"}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: " + err.Error()}
	}
	if req.JSONRPCVersion != ProtocolVersion {
		return &req, &Error{Code: ErrorCodeInvalidRequest, Message: fmt.Sprintf("Invalid Request: expected jsonrpc %q", ProtocolVersion)}
	}
	if req.Method == "" {
		return &req, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request: method is required"}
	}
	return &req, nil
}
