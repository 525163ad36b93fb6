package router

import (
	"context"
	"fmt"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
)

// Bootstrap tokens of the provisioning channels. Their handles are static,
// so they are reachable before anything has been provisioned.
const (
	ProvisionEventToken    channel.Token = "core.requestnew.event"
	ProvisionFunctionToken channel.Token = "core.requestnew.function"
)

// Provisioning payload types
var (
	ProvisionRequestType  = message.Type{Domain: "core", Category: "provision-request", Version: "v1"}
	ProvisionResponseType = message.Type{Domain: "core", Category: "provision-response", Version: "v1"}
)

// ProvisionRequest asks the server for the handle of a token
type ProvisionRequest struct {
	Token channel.Token `json:"token"`
}

// Schema implements message.Payload
func (ProvisionRequest) Schema() message.Type { return ProvisionRequestType }

// Validate implements message.Payload
func (p ProvisionRequest) Validate() error { return p.Token.Validate() }

// ProvisionResponse carries the provisioned handle
type ProvisionResponse struct {
	Handle channel.Handle `json:"handle"`
}

// Schema implements message.Payload
func (ProvisionResponse) Schema() message.Type { return ProvisionResponseType }

// Validate implements message.Payload
func (p ProvisionResponse) Validate() error { return p.Handle.Validate() }

type provisioner = Function[ProvisionRequest, ProvisionResponse, message.Empty, message.Empty]

func bootstrapToken(kind channel.Kind) channel.Token {
	if kind == channel.KindEvent {
		return ProvisionEventToken
	}
	return ProvisionFunctionToken
}

// bootstrapHandle returns the static handle of a provisioning channel
func bootstrapHandle(token channel.Token) (channel.Handle, bool) {
	if token != ProvisionEventToken && token != ProvisionFunctionToken {
		return channel.Handle{}, false
	}
	return channel.StaticHandle(channel.KindFunction, token), true
}

// provisioner opens the bootstrap channel that provisions handles of kind
func (r *Router) provisioner(kind channel.Kind) (*provisioner, error) {
	h, _ := bootstrapHandle(bootstrapToken(kind))
	return attach(r, h, func() (*provisioner, error) {
		return newFunction[ProvisionRequest, ProvisionResponse, message.Empty, message.Empty](r, h)
	})
}

// serveProvisioning answers provisioning requests by resolving on the
// server's registry. Resolve is idempotent, so every client asking for one
// token gets the same handle.
func (r *Router) serveProvisioning() error {
	for _, kind := range []channel.Kind{channel.KindEvent, channel.KindFunction} {
		f, err := r.provisioner(kind)
		if err != nil {
			return err
		}
		err = f.SetServerCallback(func(ctx context.Context, from channel.PeerID, req ProvisionRequest) (ProvisionResponse, error) {
			h, err := r.reg.Resolve(ctx, req.Token, kind)
			if err != nil {
				return ProvisionResponse{}, err
			}
			r.logger.Debug("Provisioned channel", "peer", from, "name", h.Name(), "id", h.ID)
			return ProvisionResponse{Handle: h}, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// handleFor finds the handle of token. The server resolves it; a client uses
// its cache and otherwise provisions it from the server.
func (r *Router) handleFor(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, error) {
	if err := r.running(); err != nil {
		return channel.Handle{}, err
	}
	if err := token.Validate(); err != nil {
		return channel.Handle{}, err
	}
	if h, ok := bootstrapHandle(token); ok {
		if err := h.Expect(kind); err != nil {
			return channel.Handle{}, err
		}
		return h, nil
	}

	if r.role == channel.RoleServer {
		return r.reg.Resolve(ctx, token, kind)
	}
	if h, ok := r.reg.Cached(token, kind); ok {
		return h, nil
	}
	return r.provision(ctx, token, kind)
}

func (r *Router) provision(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, error) {
	f, err := r.provisioner(kind)
	if err != nil {
		return channel.Handle{}, err
	}

	r.logger.Debug("Provisioning channel", "token", token, "kind", kind.String())
	resp, err := f.InvokeServerWithRetry(ctx, r.provisionTimeout, r.retry, ProvisionRequest{Token: token})
	if err != nil {
		return channel.Handle{}, errors.Wrap(err, "Router", "provision", "provision "+channel.Name(kind, token))
	}

	h := resp.Handle
	if err := h.Expect(kind); err != nil {
		return channel.Handle{}, err
	}
	if h.Token != token {
		return channel.Handle{}, errors.WrapInvalid(fmt.Errorf("%w: asked for %q, got %q", errors.ErrInvalidData, token, h.Token),
			"Router", "provision", "check handle")
	}
	if err := r.reg.Remember(h); err != nil {
		return channel.Handle{}, err
	}
	h, _ = r.reg.Cached(token, kind)
	return h, nil
}

// GetEvent opens the event channel named token
func GetEvent[C2S, S2C message.Payload](ctx context.Context, r *Router, token channel.Token) (*Event[C2S, S2C], error) {
	h, err := r.handleFor(ctx, token, channel.KindEvent)
	if err != nil {
		return nil, err
	}
	return attach(r, h, func() (*Event[C2S, S2C], error) {
		return newEvent[C2S, S2C](r, h), nil
	})
}

// GetFunction opens the request channel named token
func GetFunction[SReq, SResp, CReq, CResp message.Payload](ctx context.Context, r *Router, token channel.Token) (*Function[SReq, SResp, CReq, CResp], error) {
	h, err := r.handleFor(ctx, token, channel.KindFunction)
	if err != nil {
		return nil, err
	}
	return attach(r, h, func() (*Function[SReq, SResp, CReq, CResp], error) {
		return newFunction[SReq, SResp, CReq, CResp](r, h)
	})
}

func init() {
	for _, reg := range []*message.Registration{
		{Type: ProvisionRequestType, Description: "request for a channel handle", Factory: func() message.Payload { return &ProvisionRequest{} },
			JSONSchema: `{"type":"object","properties":{"token":{"type":"string","minLength":1}},"required":["token"]}`},
		{Type: ProvisionResponseType, Description: "provisioned channel handle", Factory: func() message.Payload { return &ProvisionResponse{} },
			JSONSchema: `{"type":"object","properties":{"handle":{"type":"object","required":["id","kind","token"]}},"required":["handle"]}`},
	} {
		if err := message.Default.Register(reg); err != nil {
			panic("failed to register provisioning payload: " + err.Error())
		}
	}
}
