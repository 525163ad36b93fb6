package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/transport"
)

// LookupRequest asks the server for one handle, or for all of them
type LookupRequest struct {
	Kind  channel.Kind  `json:"kind,omitempty"`
	Token channel.Token `json:"token,omitempty"`
	All   bool          `json:"all,omitempty"`
}

// LookupResponse answers a LookupRequest
type LookupResponse struct {
	Found   bool             `json:"found"`
	Handle  *channel.Handle  `json:"handle,omitempty"`
	Handles []channel.Handle `json:"handles,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// RemoteFolder is a read-only folder for clients that cannot reach the shared
// store. It asks the server over the transport and listens for creation
// announcements while waiting.
type RemoteFolder struct {
	tr             transport.Transport
	lookupSubject  string
	createdSubject string
	timeout        time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// RemoteOption configures a RemoteFolder
type RemoteOption func(*RemoteFolder)

// WithLookupTimeout bounds each lookup request
func WithLookupTimeout(d time.Duration) RemoteOption {
	return func(f *RemoteFolder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithPollInterval sets how often WaitFor re-asks the server in case an
// announcement was missed
func WithPollInterval(d time.Duration) RemoteOption {
	return func(f *RemoteFolder) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithRemoteLogger sets the folder's logger
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(f *RemoteFolder) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewRemoteFolder creates a client-side folder using the given subjects
func NewRemoteFolder(tr transport.Transport, lookupSubject, createdSubject string, opts ...RemoteOption) *RemoteFolder {
	f := &RemoteFolder{
		tr:             tr,
		lookupSubject:  lookupSubject,
		createdSubject: createdSubject,
		timeout:        5 * time.Second,
		pollInterval:   time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "remote-folder")
	return f
}

// GetOrCreate always fails: only the server creates channels
func (f *RemoteFolder) GetOrCreate(_ context.Context, h channel.Handle) (channel.Handle, bool, error) {
	return channel.Handle{}, false, errors.WrapFatal(ErrClientCreate, "RemoteFolder", "GetOrCreate", "create "+h.Name())
}

func (f *RemoteFolder) lookup(ctx context.Context, req LookupRequest) (LookupResponse, error) {
	var resp LookupResponse
	data, err := json.Marshal(req)
	if err != nil {
		return resp, errors.WrapInvalid(err, "RemoteFolder", "lookup", "marshal request")
	}
	raw, err := f.tr.Request(ctx, f.lookupSubject, data, f.timeout)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, errors.WrapInvalid(err, "RemoteFolder", "lookup", "unmarshal response")
	}
	if resp.Error != "" {
		return resp, errors.WrapInvalid(errors.ErrInvalidData, "RemoteFolder", "lookup", resp.Error)
	}
	return resp, nil
}

// Get asks the server for a handle
func (f *RemoteFolder) Get(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, bool, error) {
	resp, err := f.lookup(ctx, LookupRequest{Kind: kind, Token: token})
	if err != nil {
		return channel.Handle{}, false, err
	}
	if !resp.Found || resp.Handle == nil {
		return channel.Handle{}, false, nil
	}
	if err := resp.Handle.Validate(); err != nil {
		return channel.Handle{}, false, err
	}
	return *resp.Handle, true, nil
}

// WaitFor polls the server and listens for announcements until the handle
// exists. Transient lookup failures (server not up yet) keep it waiting.
func (f *RemoteFolder) WaitFor(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, error) {
	name := channel.Name(kind, token)

	announced := make(chan channel.Handle, 1)
	sub, err := f.tr.Subscribe(ctx, f.createdSubject, func(_ context.Context, data []byte) {
		h, err := decodeHandle(data)
		if err != nil || h.Name() != name {
			return
		}
		select {
		case announced <- h:
		default:
		}
	})
	if err != nil {
		return channel.Handle{}, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		h, ok, err := f.Get(ctx, kind, token)
		switch {
		case err == nil && ok:
			return h, nil
		case err != nil && !errors.IsTransient(err):
			return channel.Handle{}, err
		case err != nil:
			f.logger.Debug("Lookup failed, still waiting", "name", name, "error", err)
		}

		select {
		case <-ctx.Done():
			return channel.Handle{}, errors.WrapTransient(ctx.Err(), "RemoteFolder", "WaitFor", "wait for "+name)
		case h := <-announced:
			return h, nil
		case <-ticker.C:
		}
	}
}

// List asks the server for every handle
func (f *RemoteFolder) List(ctx context.Context) ([]channel.Handle, error) {
	resp, err := f.lookup(ctx, LookupRequest{All: true})
	if err != nil {
		return nil, err
	}
	return resp.Handles, nil
}

// ServeLookups answers RemoteFolder requests from reg. It must run on the server.
func ServeLookups(ctx context.Context, tr transport.Transport, lookupSubject string, reg *Registry) (transport.Subscription, error) {
	if err := channel.Require(reg.Role(), channel.RoleServer, "registry", "ServeLookups"); err != nil {
		return nil, err
	}
	return tr.Reply(ctx, lookupSubject, func(ctx context.Context, data []byte) ([]byte, error) {
		var req LookupRequest
		var resp LookupResponse
		if err := json.Unmarshal(data, &req); err != nil {
			resp.Error = "malformed lookup request"
			return json.Marshal(resp)
		}

		if req.All {
			handles, err := reg.List(ctx)
			if err != nil {
				resp.Error = err.Error()
			}
			resp.Found = len(handles) > 0
			resp.Handles = handles
			return json.Marshal(resp)
		}

		h, ok, err := reg.Lookup(ctx, req.Token, req.Kind)
		switch {
		case err != nil:
			resp.Error = err.Error()
		case ok:
			resp.Found = true
			resp.Handle = &h
		}
		return json.Marshal(resp)
	})
}

// Announcer returns a created-hook that publishes new handles on createdSubject
func Announcer(tr transport.Transport, createdSubject string, logger *slog.Logger) func(context.Context, channel.Handle) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, h channel.Handle) {
		data, err := encodeHandle(h)
		if err == nil {
			err = tr.Publish(ctx, createdSubject, data)
		}
		if err != nil {
			logger.Warn("Failed to announce channel", "name", h.Name(), "error", err)
		}
	}
}
