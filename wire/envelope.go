package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Family identifies a bridge protocol family. All envelope tags and
// notification method names are derived from it.
type Family string

const (
	// FamilyWidget is the embedded authentication widget bridge.
	FamilyWidget Family = "niomon_widget"
	// FamilyProvider is the generic external provider bridge.
	FamilyProvider Family = "niomon_provider"
)

// ChannelType returns the envelope tag for this family.
func (f Family) ChannelType() string { return string(f) + "_message" }

// RequestMethod returns the transport-level sub-method used for RPC traffic.
func (f Family) RequestMethod() string { return string(f) + "_request" }

// Ready returns the readiness notification method name.
func (f Family) Ready() string { return string(f) + "_ready" }

// Mode returns the visibility-mode notification method name.
func (f Family) Mode() string { return string(f) + "_mode" }

// DidLogout returns the logout acknowledgement notification method name.
func (f Family) DidLogout() string { return string(f) + "_did_logout" }

// Event returns the generic event notification method name. Its first
// positional parameter is the real event name; the rest are its arguments.
func (f Family) Event() string { return string(f) + "_event" }

// ErrForeignMessage marks a message whose channelType does not belong to the
// expected family. The channel is untrusted and shared with unrelated
// traffic, so callers drop these silently.
var ErrForeignMessage = errors.New("foreign channel message")

// Envelope is the outermost wire shape of every bridge message.
type Envelope struct {
	ChannelType string          `json:"channelType"`
	Method      string          `json:"method"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses data and verifies it carries the family's tag.
func DecodeEnvelope(data []byte, f Family) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ChannelType != f.ChannelType() {
		return nil, ErrForeignMessage
	}
	return &env, nil
}

// EncodeRequest builds the wire bytes for an RPC request.
func EncodeRequest(f Family, id uint64, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}
	p := RPCPayload{JSONRPC: Version, Method: method, Params: raw, ID: &id}
	return encodeEnvelope(f, f.RequestMethod(), &p)
}

// EncodeResult builds the wire bytes for a successful RPC response.
func EncodeResult(f Family, id uint64, result any) ([]byte, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	p := RPCPayload{JSONRPC: Version, ID: &id, Result: b}
	return encodeEnvelope(f, f.RequestMethod(), &p)
}

// EncodeError builds the wire bytes for a failed RPC response.
func EncodeError(f Family, id uint64, rpcErr *RPCError) ([]byte, error) {
	p := RPCPayload{JSONRPC: Version, ID: &id, Error: rpcErr}
	return encodeEnvelope(f, f.RequestMethod(), &p)
}

// EncodeNotification builds the wire bytes for a notification. Params are
// positional, matching the *_mode and *_event vocabulary.
func EncodeNotification(f Family, method string, params ...any) ([]byte, error) {
	var raw json.RawMessage
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}
	p := RPCPayload{JSONRPC: Version, Method: method, Params: raw}
	return encodeEnvelope(f, method, &p)
}

func encodeEnvelope(f Family, method string, p *RPCPayload) ([]byte, error) {
	pb, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(Envelope{ChannelType: f.ChannelType(), Method: method, Payload: pb})
}
