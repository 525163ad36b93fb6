package message

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
)

// Envelope is the wire form of every channel message
type Envelope struct {
	Type      string          `json:"type"`
	Sender    channel.PeerID  `json:"sender,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"ts"`
}

// Encode validates p and wraps it in an envelope from sender
func Encode(p Payload, sender channel.PeerID) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidPayload, err), "Envelope", "Encode", "validate "+p.Schema().Key())
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "marshal payload")
	}
	return json.Marshal(Envelope{
		Type:      p.Schema().Key(),
		Sender:    sender,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EncodeError builds a reply envelope that carries only an error message
func EncodeError(msg string, sender channel.PeerID) []byte {
	data, _ := json.Marshal(Envelope{
		Type:      "core.error.v1",
		Sender:    sender,
		Error:     msg,
		Timestamp: time.Now().UnixMilli(),
	})
	return data
}

// ParseEnvelope unmarshals the outer envelope without touching the payload
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errors.WrapInvalid(err, "Envelope", "ParseEnvelope", "unmarshal envelope")
	}
	if env.Type == "" {
		return env, errors.WrapInvalid(fmt.Errorf("%w: missing type", ErrInvalidPayload), "Envelope", "ParseEnvelope", "check type")
	}
	return env, nil
}

// Restamp replaces the sender of an encoded envelope. Relays that know the
// authenticated identity of a connection use it so the sender field cannot
// be forged by the peer.
func Restamp(data []byte, sender channel.PeerID) ([]byte, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	env.Sender = sender
	return json.Marshal(env)
}

// Decode parses an envelope and decodes its payload as T. The envelope tag
// must equal T's schema, the payload must pass the registry's JSON Schema
// (if any) and T's own Validate. A nil registry means Default.
//
// Error replies decode without error: the caller inspects Envelope.Error.
func Decode[T Payload](reg *Registry, data []byte) (T, Envelope, error) {
	var out T
	if reg == nil {
		reg = Default
	}

	env, err := ParseEnvelope(data)
	if err != nil {
		return out, env, err
	}
	if env.Error != "" {
		return out, env, nil
	}
	if want := SchemaOf[T]().Key(); want != env.Type {
		return out, env, errors.WrapInvalid(fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, env.Type, want),
			"Envelope", "Decode", "check type")
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return out, env, errors.WrapInvalid(fmt.Errorf("%w: missing payload", ErrInvalidPayload), "Envelope", "Decode", "check payload")
	}
	if err := reg.CheckSchema(env.Type, env.Payload); err != nil {
		return out, env, err
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, env, errors.WrapInvalid(err, "Envelope", "Decode", "unmarshal payload")
	}
	if err := out.Validate(); err != nil {
		return out, env, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidPayload, err), "Envelope", "Decode", "validate payload")
	}
	return out, env, nil
}

// SchemaOf returns the Type declared by payload type T without needing a
// value. Pointer payload types are instantiated so their methods can run.
func SchemaOf[T Payload]() Type {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return Type{}
	}
	if rt.Kind() == reflect.Pointer {
		return reflect.New(rt.Elem()).Interface().(Payload).Schema()
	}
	return zero.Schema()
}
