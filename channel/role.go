package channel

import (
	"fmt"
	"strings"

	"github.com/c360/networker/errors"
)

// Role is the side of the trust boundary a process runs on. It is fixed for
// the lifetime of a Router and passed in explicitly.
type Role int

const (
	// RoleServer is the authoritative side. Only the server creates channels.
	RoleServer Role = iota + 1
	// RoleClient is the untrusted side.
	RoleClient
)

// String returns the lowercase role name
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the two defined roles
func (r Role) Valid() bool {
	return r == RoleServer || r == RoleClient
}

// Opposite returns the role on the other side of the boundary
func (r Role) Opposite() Role {
	if r == RoleServer {
		return RoleClient
	}
	return RoleServer
}

// ParseRole parses "server" or "client" (case-insensitive)
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	}
	return 0, errors.WrapInvalid(fmt.Errorf("unknown role %q", s), "channel", "ParseRole", "parse role")
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Require returns a fatal role-violation error when actual differs from want.
// op names the rejected operation, e.g. "FireServer".
func Require(actual, want Role, component, op string) error {
	if actual == want {
		return nil
	}
	return errors.WrapFatal(
		fmt.Errorf("%w: %s is %s-only, called as %s", ErrRoleViolation, op, want, actual),
		component, op, "role check")
}
