package message

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/networker/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Factory creates an empty payload instance to decode into
type Factory func() Payload

// Registration describes one known payload type
type Registration struct {
	Type        Type    `json:"type"`
	Description string  `json:"description"`
	Factory     Factory `json:"-"`

	// JSONSchema optionally constrains the raw payload before it is decoded.
	JSONSchema string `json:"json_schema,omitempty"`

	schema *gojsonschema.Schema
}

// Registry is the set of payload types this process understands. Decoders
// consult it to run JSON Schema checks, and tools use it to decode envelopes
// without knowing the Go type in advance.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
}

// Default is the process-wide registry. Built-in payloads register themselves here.
var Default = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]*Registration)}
}

// Register adds a payload type. Registering the same type twice is an error.
func (r *Registry) Register(reg *Registration) error {
	if reg == nil || reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}
	if !reg.Type.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "type validation")
	}
	if reg.JSONSchema != "" {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reg.JSONSchema))
		if err != nil {
			return errors.WrapInvalid(err, "Registry", "Register", "compile JSON schema for "+reg.Type.Key())
		}
		reg.schema = compiled
	}

	key := reg.Type.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("payload type '%s' is already registered", key),
			"Registry", "Register", "duplicate payload check")
	}
	r.registrations[key] = reg
	return nil
}

// Create returns a new instance for a type key, or false if it is unknown
func (r *Registry) Create(key string) (Payload, bool) {
	r.mu.RLock()
	reg, ok := r.registrations[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reg.Factory(), true
}

// Known reports whether a type key is registered
func (r *Registry) Known(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registrations[key]
	return ok
}

// CheckSchema validates raw against the registered JSON Schema for key.
// Unknown types and types without a schema pass.
func (r *Registry) CheckSchema(key string, raw json.RawMessage) error {
	r.mu.RLock()
	reg, ok := r.registrations[key]
	r.mu.RUnlock()
	if !ok || reg.schema == nil {
		return nil
	}

	result, err := reg.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidPayload, err), "Registry", "CheckSchema", "validate "+key)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; ")),
			"Registry", "CheckSchema", "validate "+key)
	}
	return nil
}

// DecodeAny decodes an envelope into the registered payload type for its tag
func (r *Registry) DecodeAny(data []byte) (Payload, Envelope, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, env, err
	}
	p, ok := r.Create(env.Type)
	if !ok {
		return nil, env, errors.WrapInvalid(fmt.Errorf("%w: unregistered type %q", ErrInvalidPayload, env.Type),
			"Registry", "DecodeAny", "lookup factory")
	}
	if err := r.CheckSchema(env.Type, env.Payload); err != nil {
		return nil, env, err
	}
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, env, errors.WrapInvalid(err, "Registry", "DecodeAny", "unmarshal payload")
	}
	if err := p.Validate(); err != nil {
		return nil, env, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidPayload, err), "Registry", "DecodeAny", "validate payload")
	}
	return p, env, nil
}

// List returns the registered types sorted by key
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, Registration{Type: reg.Type, Description: reg.Description, JSONSchema: reg.JSONSchema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type.Key() < out[j].Type.Key() })
	return out
}
