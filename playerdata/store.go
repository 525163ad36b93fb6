package playerdata

import (
	"context"
	"encoding/json"
	"maps"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/natsclient"
)

// DefaultBucket is the KV bucket player records are kept in
const DefaultBucket = "NETWORKER_PLAYERDATA"

// Store loads and saves player records. Load returns Default for a player
// that has never been saved.
type Store interface {
	Load(ctx context.Context, peer channel.PeerID) (Data, error)
	Save(ctx context.Context, peer channel.PeerID, data Data) error
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[channel.PeerID]Data
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[channel.PeerID]Data)}
}

// Load implements Store
func (s *MemoryStore) Load(_ context.Context, peer channel.PeerID) (Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.data[peer]; ok {
		return d, nil
	}
	return Default(), nil
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, peer channel.PeerID, data Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[peer] = data
	s.mu.Unlock()
	return nil
}

// KVStore keeps records in a JetStream KV bucket, one key per player
type KVStore struct {
	kv *natsclient.KVStore
}

// NewKVStore wraps an open bucket
func NewKVStore(kv *natsclient.KVStore) *KVStore {
	return &KVStore{kv: kv}
}

// OpenKVStore creates or opens bucket on client
func OpenKVStore(ctx context.Context, client *natsclient.Client, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "networker player data",
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "OpenKVStore", "open bucket "+bucket)
	}
	return NewKVStore(client.NewKVStore(kv)), nil
}

func key(peer channel.PeerID) string {
	return "pds." + strconv.FormatUint(uint64(peer), 10)
}

// Load implements Store
func (s *KVStore) Load(ctx context.Context, peer channel.PeerID) (Data, error) {
	entry, err := s.kv.Get(ctx, key(peer))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Default(), nil
		}
		return Data{}, errors.WrapTransient(err, "KVStore", "Load", "get "+key(peer))
	}

	data := Default()
	if err := json.Unmarshal(entry.Value, &data); err != nil {
		return Data{}, errors.WrapInvalid(err, "KVStore", "Load", "decode "+key(peer))
	}
	if err := data.Validate(); err != nil {
		return Data{}, err
	}
	return data, nil
}

// Save implements Store. Keys the record does not know about are kept, and
// concurrent saves are serialized by revision.
func (s *KVStore) Save(ctx context.Context, peer channel.PeerID, data Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	fields, err := data.fields()
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Save", "encode record")
	}
	if err := s.kv.UpdateJSON(ctx, key(peer), func(current map[string]any) error {
		maps.Copy(current, fields)
		return nil
	}); err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "update "+key(peer))
	}
	return nil
}
