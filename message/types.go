package message

import (
	"fmt"
	"strings"

	"github.com/c360/networker/errors"
)

// Type identifies the shape of a message: which domain it belongs to, what
// it carries, and which schema version it follows.
//
// Type values are declared next to the payload they describe:
//
//	var BalanceType = message.Type{Domain: "economy", Category: "balance", Version: "v1"}
type Type struct {
	Domain   string `json:"domain"`
	Category string `json:"category"`
	Version  string `json:"version"`
}

// Key returns the dotted notation representation: "domain.category.version"
func (mt Type) Key() string {
	return fmt.Sprintf("%s.%s.%s", mt.Domain, mt.Category, mt.Version)
}

// String returns the same as Key()
func (mt Type) String() string {
	return mt.Key()
}

// IsValid checks if the Type has all required fields populated
func (mt Type) IsValid() bool {
	return mt.Domain != "" && mt.Category != "" && mt.Version != ""
}

// Equal compares two Type instances for equality
func (mt Type) Equal(other Type) bool {
	return mt == other
}

// ParseType parses a "domain.category.version" key
func ParseType(key string) (Type, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return Type{}, errors.WrapInvalid(errors.ErrInvalidData, "Type", "ParseType",
			fmt.Sprintf("expected 3 parts in %q, got %d", key, len(parts)))
	}
	t := Type{Domain: parts[0], Category: parts[1], Version: parts[2]}
	if !t.IsValid() {
		return Type{}, errors.WrapInvalid(errors.ErrInvalidData, "Type", "ParseType",
			fmt.Sprintf("empty part in %q", key))
	}
	return t, nil
}
