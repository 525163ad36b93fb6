package message

import (
	"fmt"
	"strings"

	"github.com/c360/networker/errors"
)

// Built-in payload types for channels that carry a single scalar
var (
	TextType  = Type{Domain: "core", Category: "text", Version: "v1"}
	IntType   = Type{Domain: "core", Category: "int", Version: "v1"}
	EmptyType = Type{Domain: "core", Category: "empty", Version: "v1"}
	JSONType  = Type{Domain: "core", Category: "json", Version: "v1"}
)

// Text carries one string
type Text struct {
	Value string `json:"value"`
}

// NewText returns a Text payload
func NewText(s string) Text { return Text{Value: s} }

// Schema implements Payload
func (Text) Schema() Type { return TextType }

// Validate implements Payload
func (Text) Validate() error { return nil }

// String returns the carried value
func (t Text) String() string { return t.Value }

// Int carries one integer
type Int struct {
	Value int64 `json:"value"`
}

// NewInt returns an Int payload
func NewInt(v int64) Int { return Int{Value: v} }

// Schema implements Payload
func (Int) Schema() Type { return IntType }

// Validate implements Payload
func (Int) Validate() error { return nil }

// Empty carries nothing. Use it for directions a channel does not use and
// for requests without arguments.
type Empty struct{}

// Schema implements Payload
func (Empty) Schema() Type { return EmptyType }

// Validate implements Payload
func (Empty) Validate() error { return nil }

// JSON carries an arbitrary object. It trades the closed schema for
// flexibility and is meant for prototyping and debugging tools.
type JSON struct {
	Data map[string]any `json:"data"`
}

// NewJSON returns a JSON payload
func NewJSON(data map[string]any) JSON { return JSON{Data: data} }

// Schema implements Payload
func (JSON) Schema() Type { return JSONType }

// Validate implements Payload
func (j JSON) Validate() error {
	if j.Data == nil {
		return errors.WrapInvalid(ErrInvalidPayload, "JSON", "Validate", "data is nil")
	}
	for k := range j.Data {
		if strings.TrimSpace(k) == "" {
			return errors.WrapInvalid(ErrInvalidPayload, "JSON", "Validate", fmt.Sprintf("empty key %q", k))
		}
	}
	return nil
}

func init() {
	for _, reg := range []*Registration{
		{Type: TextType, Description: "single string value", Factory: func() Payload { return &Text{} },
			JSONSchema: `{"type":"object","properties":{"value":{"type":"string"}},"required":["value"]}`},
		{Type: IntType, Description: "single integer value", Factory: func() Payload { return &Int{} },
			JSONSchema: `{"type":"object","properties":{"value":{"type":"integer"}},"required":["value"]}`},
		{Type: EmptyType, Description: "no value", Factory: func() Payload { return &Empty{} }},
		{Type: JSONType, Description: "arbitrary JSON object", Factory: func() Payload { return &JSON{} },
			JSONSchema: `{"type":"object","properties":{"data":{"type":"object"}},"required":["data"]}`},
	} {
		if err := Default.Register(reg); err != nil {
			panic("failed to register builtin payload: " + err.Error())
		}
	}
}
