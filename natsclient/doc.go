// Package natsclient wraps a NATS connection with a circuit breaker, health
// monitoring and KV helpers. It is the NATS backbone behind the router's
// transport, the KV registry folder and the player data store.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("networker-server"),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "networker.E.42.server", func(ctx context.Context, data []byte) {
//	    // handle event
//	})
//	defer sub.Unsubscribe()
//
// # Request/Reply
//
// Reply runs every inbound request on its own goroutine so a handler that
// blocks (for example while waiting for a callback to be bound) does not hold
// up the subscription. Request returns nats.ErrNoResponders when nobody serves
// the subject and context.DeadlineExceeded when the timeout elapses:
//
//	_, err := client.Reply(ctx, "networker.F.7.server", func(ctx context.Context, req []byte) ([]byte, error) {
//	    return handle(req)
//	})
//	resp, err := client.Request(ctx, "networker.F.7.server", payload, 5*time.Second)
//
// # Circuit Breaker
//
// After five consecutive failures (WithCircuitBreakerThreshold) the client
// refuses Connect and JetStream calls with ErrCircuitOpen. The circuit
// half-opens after a backoff that starts at one second and doubles each round
// up to WithMaxBackoff.
//
// # Key-Value Store
//
// KVStore adds CAS helpers over a jetstream.KeyValue bucket. Create is the
// atomic find-or-create primitive (ErrKVKeyExists for the loser); UpdateJSON and
// UpdateWithRetry read, modify and write with revision checks and retry on
// conflicts:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "NETWORKER_REGISTRY"})
//	kv := client.NewKVStore(bucket)
//	err := kv.UpdateJSON(ctx, "player.42", func(current map[string]any) error {
//	    current["money"] = 100
//	    return nil
//	})
//
// # Testing
//
// NewTestClient starts a nats container through testcontainers-go and returns a
// connected client that is torn down with the test. Tests that use it carry the
// integration build tag.
package natsclient
