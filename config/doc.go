// Package config loads the networker configuration.
//
// # Layers
//
// Loader starts from Default, merges each file layer in order, then applies
// environment overrides and validates:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.json") // overrides base
//	cfg, err := loader.Load()
//
// JSON and YAML files are both accepted. A layer only overrides the keys it
// names, so a layer with just {"nats": {"url": "nats://bus:4222"}} keeps every
// other NATS setting. Durations are written as strings ("5s", "250ms").
//
// # Environment
//
// Every field can be overridden with a NETWORKER_ variable whose name follows
// the section path:
//
//	NETWORKER_ROLE=client
//	NETWORKER_PEER=42
//	NETWORKER_NATS_URL=nats://bus:4222
//	NETWORKER_INVOKE_DEFAULT_TIMEOUT=2s
//	NETWORKER_GATEWAY_SECRET=...
//
// # Security
//
// Config files are read through a guarded reader: paths may not escape the
// working directory, files larger than 10MB are refused, and nesting deeper
// than 100 levels is rejected. String renders the config with passwords,
// tokens and secrets masked.
//
// # Thread Safety
//
// SafeConfig wraps a Config for concurrent readers; Get returns a copy and
// Update validates before swapping.
package config
