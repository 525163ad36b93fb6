package channel

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/c360/networker/errors"
)

// Kind separates event channels from request channels sharing one registry folder
type Kind int

const (
	// KindEvent is a fire-and-forget channel
	KindEvent Kind = iota + 1
	// KindFunction is a request/response channel
	KindFunction
)

// Prefix returns the composite-name prefix for the kind
func (k Kind) Prefix() string {
	switch k {
	case KindEvent:
		return "E."
	case KindFunction:
		return "F."
	default:
		return "?."
	}
}

// String returns the lowercase kind name
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a defined kind
func (k Kind) Valid() bool {
	return k == KindEvent || k == KindFunction
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "event":
		*k = KindEvent
	case "function":
		*k = KindFunction
	default:
		return fmt.Errorf("unknown kind %q", b)
	}
	return nil
}

// Token is the stable string naming a channel in both roles
type Token string

// Validate rejects empty and whitespace-only tokens
func (t Token) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return errors.WrapInvalid(ErrInvalidToken, "channel", "Validate", "check token")
	}
	return nil
}

// Name returns the composite name used as the registry key: kind prefix plus token
func Name(kind Kind, token Token) string {
	return kind.Prefix() + string(token)
}

// Key encodes a composite name into a key safe for stores that restrict key
// characters (NATS KV keys cannot contain spaces, tokens may).
func Key(kind Kind, token Token) string {
	return base64.RawURLEncoding.EncodeToString([]byte(Name(kind, token)))
}

// ParseKey reverses Key
func ParseKey(key string) (Kind, Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return 0, "", errors.WrapInvalid(err, "channel", "ParseKey", "decode key")
	}
	name := string(raw)
	switch {
	case strings.HasPrefix(name, KindEvent.Prefix()):
		return KindEvent, Token(strings.TrimPrefix(name, KindEvent.Prefix())), nil
	case strings.HasPrefix(name, KindFunction.Prefix()):
		return KindFunction, Token(strings.TrimPrefix(name, KindFunction.Prefix())), nil
	}
	return 0, "", errors.WrapInvalid(fmt.Errorf("no kind prefix in %q", name), "channel", "ParseKey", "split name")
}
