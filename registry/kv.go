package registry

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/natsclient"
)

// DefaultBucket is the KV bucket shared by every router in a deployment
const DefaultBucket = "NETWORKER_REGISTRY"

// KVFolder stores handles in a JetStream KV bucket. Keys are channel.Key of
// the composite name; find-or-create relies on the bucket's atomic Create.
type KVFolder struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// NewKVFolder wraps an opened KV store
func NewKVFolder(kv *natsclient.KVStore, logger *slog.Logger) *KVFolder {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVFolder{kv: kv, logger: logger.With("component", "kv-folder", "bucket", kv.Bucket())}
}

// OpenKVFolder creates the bucket if needed and returns a folder over it
func OpenKVFolder(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) (*KVFolder, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "networker channel registry",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVFolder", "OpenKVFolder", "open bucket "+bucket)
	}
	return NewKVFolder(client.NewKVStore(kv), logger), nil
}

// GetOrCreate writes h with Create. The loser of a concurrent race reads the winner's handle.
func (f *KVFolder) GetOrCreate(ctx context.Context, h channel.Handle) (channel.Handle, bool, error) {
	if err := h.Validate(); err != nil {
		return channel.Handle{}, false, err
	}
	data, err := encodeHandle(h)
	if err != nil {
		return channel.Handle{}, false, err
	}

	key := channel.Key(h.Kind, h.Token)
	if _, err := f.kv.Create(ctx, key, data); err == nil {
		f.logger.Debug("Created channel", "name", h.Name(), "id", h.ID)
		return h, true, nil
	} else if !stderrors.Is(err, natsclient.ErrKVKeyExists) {
		return channel.Handle{}, false, errors.WrapTransient(err, "KVFolder", "GetOrCreate", "create "+h.Name())
	}

	existing, ok, err := f.Get(ctx, h.Kind, h.Token)
	if err != nil {
		return channel.Handle{}, false, err
	}
	if !ok {
		// deleted between our Create and Get; treat as a lost race and let the caller retry
		return channel.Handle{}, false, errors.WrapTransient(natsclient.ErrKVKeyNotFound,
			"KVFolder", "GetOrCreate", "read winner of "+h.Name())
	}
	return existing, false, nil
}

// Get reads the handle for kind and token
func (f *KVFolder) Get(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, bool, error) {
	entry, err := f.kv.Get(ctx, channel.Key(kind, token))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return channel.Handle{}, false, nil
		}
		return channel.Handle{}, false, errors.WrapTransient(err, "KVFolder", "Get", "get "+channel.Name(kind, token))
	}
	h, err := decodeHandle(entry.Value)
	if err != nil {
		return channel.Handle{}, false, err
	}
	return h, true, nil
}

// WaitFor watches the handle's key until a value appears
func (f *KVFolder) WaitFor(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, error) {
	name := channel.Name(kind, token)
	watcher, err := f.kv.Watch(ctx, channel.Key(kind, token))
	if err != nil {
		return channel.Handle{}, errors.WrapTransient(err, "KVFolder", "WaitFor", "watch "+name)
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return channel.Handle{}, errors.WrapTransient(ctx.Err(), "KVFolder", "WaitFor", "wait for "+name)
		case entry, ok := <-watcher.Updates():
			if !ok {
				return channel.Handle{}, errors.WrapTransient(stderrors.New("watcher closed"), "KVFolder", "WaitFor", "wait for "+name)
			}
			// nil marks the end of the initial values
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			h, err := decodeHandle(entry.Value())
			if err != nil {
				f.logger.Warn("Ignoring malformed registry entry", "name", name, "error", err)
				continue
			}
			return h, nil
		}
	}
}

// List reads every handle in the bucket. Malformed entries are skipped.
func (f *KVFolder) List(ctx context.Context) ([]channel.Handle, error) {
	keys, err := f.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVFolder", "List", "list keys")
	}

	out := make([]channel.Handle, 0, len(keys))
	for _, key := range keys {
		kind, token, err := channel.ParseKey(key)
		if err != nil {
			f.logger.Warn("Skipping foreign registry key", "key", key)
			continue
		}
		h, ok, err := f.Get(ctx, kind, token)
		if err != nil {
			f.logger.Warn("Skipping unreadable registry entry", "key", key, "error", err)
			continue
		}
		if ok {
			out = append(out, h)
		}
	}

	sortHandles(out)
	return out, nil
}
