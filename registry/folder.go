// Package registry resolves channel tokens to handles through a shared folder.
//
// The server creates handles with an atomic find-or-create, so concurrent
// first resolves of one token observe a single handle. Clients never create;
// they look handles up or wait for the server to publish them.
package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
)

// ErrClientCreate is returned when a client-side folder is asked to create a handle
var ErrClientCreate = stderrors.New("clients cannot create channels")

// Folder is the shared container of channel handles, keyed by composite name
type Folder interface {
	// GetOrCreate stores h unless a handle with the same kind and token exists.
	// It returns the stored handle and whether this call created it.
	GetOrCreate(ctx context.Context, h channel.Handle) (channel.Handle, bool, error)
	// Get returns the handle for kind and token if one exists
	Get(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, bool, error)
	// WaitFor blocks until the handle exists or ctx ends
	WaitFor(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, error)
	// List returns every stored handle
	List(ctx context.Context) ([]channel.Handle, error)
}

func encodeHandle(h channel.Handle) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, errors.WrapInvalid(err, "registry", "encodeHandle", "marshal handle")
	}
	return data, nil
}

func decodeHandle(data []byte) (channel.Handle, error) {
	var h channel.Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return h, errors.WrapInvalid(err, "registry", "decodeHandle", "unmarshal handle")
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}
