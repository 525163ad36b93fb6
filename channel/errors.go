package channel

import "errors"

var (
	// ErrRoleViolation is returned when an operation is called from the wrong role
	ErrRoleViolation = errors.New("role violation")

	// ErrInvalidToken is returned for empty or otherwise unusable tokens
	ErrInvalidToken = errors.New("invalid channel token")

	// ErrPeerGone is returned when the target peer disconnects during a call
	ErrPeerGone = errors.New("peer disconnected")

	// ErrKindMismatch is returned when a handle is used as the wrong channel kind
	ErrKindMismatch = errors.New("channel kind mismatch")
)
