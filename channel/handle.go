package channel

import (
	"strconv"
	"time"

	"github.com/c360/networker/errors"
	"github.com/google/uuid"
)

// PeerID identifies a connected client. It carries the player's numeric user id.
// The zero value refers to the server.
type PeerID uint64

// String returns the decimal form used in subjects
func (p PeerID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// Handle names one live channel. Handles are created once by the server and
// never modified afterwards, so they are safe to share by value.
type Handle struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Token     Token     `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy Role      `json:"created_by"`
}

// NewHandle mints a handle with a fresh id
func NewHandle(kind Kind, token Token) Handle {
	return Handle{
		ID:        uuid.NewString(),
		Kind:      kind,
		Token:     token,
		CreatedAt: time.Now().UTC(),
		CreatedBy: RoleServer,
	}
}

// StaticHandle returns a handle with an id derived from the composite name.
// Both roles compute the same value without a registry lookup, which is how
// the bootstrap provisioning channels are addressed.
func StaticHandle(kind Kind, token Token) Handle {
	return Handle{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(Name(kind, token))).String(),
		Kind:      kind,
		Token:     token,
		CreatedBy: RoleServer,
	}
}

// Name returns the composite registry name of the handle
func (h Handle) Name() string {
	return Name(h.Kind, h.Token)
}

// Validate checks that a handle received from a store or a peer is usable
func (h Handle) Validate() error {
	if _, err := uuid.Parse(h.ID); err != nil {
		return errors.WrapInvalid(err, "channel", "Validate", "parse handle id")
	}
	if !h.Kind.Valid() {
		return errors.WrapInvalid(ErrKindMismatch, "channel", "Validate", "check handle kind")
	}
	return h.Token.Validate()
}

// Expect returns an error unless h is of the given kind
func (h Handle) Expect(kind Kind) error {
	if h.Kind != kind {
		return errors.WrapInvalid(ErrKindMismatch, "channel", "Expect",
			"use "+h.Kind.String()+" handle as "+kind.String())
	}
	return nil
}
