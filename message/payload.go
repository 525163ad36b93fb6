package message

import stderrors "errors"

// ErrInvalidPayload is wrapped by every boundary validation failure
var ErrInvalidPayload = stderrors.New("invalid payload")

// ErrTypeMismatch is returned when an envelope carries a different type than the receiver expects
var ErrTypeMismatch = stderrors.New("message type mismatch")

// Payload is the contract for anything sent across a channel. Each channel
// direction is declared with a concrete payload type, so the set of shapes a
// channel accepts is closed and checked on both ends.
type Payload interface {
	// Schema returns the Type tag written into the envelope. It must not
	// depend on field values.
	Schema() Type

	// Validate checks field values. It runs before send and after receive.
	Validate() error
}
