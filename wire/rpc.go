package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol version carried by every payload.
const Version = "2.0"

// CodeUserRejected is the conventional JSON-RPC error code signalling that
// the user rejected the request.
const CodeUserRejected = 4001

var (
	// ErrBadPayload marks a payload that is not valid JSON-RPC 2.0.
	ErrBadPayload = errors.New("malformed rpc payload")
	// ErrMissingID marks a purported response without an id. This is a
	// protocol violation; callers log and drop it.
	ErrMissingID = errors.New("response payload missing id")
)

// RPCPayload is the JSON-RPC 2.0 body carried inside an Envelope. Exactly
// one of {result present}, {error present}, {neither: it is a request or
// notification} holds at a time.
type RPCPayload struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object carried in a failed response. It is
// propagated verbatim to callers; Code and Message are authoritative.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsResponse reports whether the payload carries a result or an error.
func (p *RPCPayload) IsResponse() bool {
	return p.Result != nil || p.Error != nil
}

// IsNotification reports whether the payload is a method call with no id.
func (p *RPCPayload) IsNotification() bool {
	return !p.IsResponse() && p.ID == nil && p.Method != ""
}

// DecodePayload parses and validates the envelope's JSON-RPC body. This is
// the validating step at the trust boundary: nothing structurally unchecked
// passes beyond it.
func DecodePayload(env *Envelope) (*RPCPayload, error) {
	if len(env.Payload) == 0 {
		return nil, ErrBadPayload
	}
	var p RPCPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.JSONRPC != Version {
		return nil, fmt.Errorf("%w: jsonrpc %q", ErrBadPayload, p.JSONRPC)
	}
	if p.IsResponse() && p.ID == nil {
		return nil, ErrMissingID
	}
	return &p, nil
}

// PositionalParams splits a params array into its raw elements. Used for
// the *_mode and *_event notifications, whose params are positional.
func PositionalParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: params not an array", ErrBadPayload)
	}
	return items, nil
}
