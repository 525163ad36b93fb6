// Package message defines the tagged schema used on every channel.
//
// Each channel direction is declared with a concrete Payload type. On send
// the payload is validated and wrapped in an Envelope tagged with its Type
// key ("domain.category.version"). On receive the tag must match the
// receiver's declared type, the raw JSON must satisfy the registered JSON
// Schema (when one is registered), and the decoded value must pass Validate.
// Anything else is rejected at the boundary instead of reaching a handler.
//
// Declaring a payload:
//
//	var BalanceType = message.Type{Domain: "economy", Category: "balance", Version: "v1"}
//
//	type Balance struct {
//	    Coins int64 `json:"coins"`
//	}
//
//	func (Balance) Schema() message.Type { return BalanceType }
//	func (b Balance) Validate() error {
//	    if b.Coins < 0 {
//	        return fmt.Errorf("negative balance")
//	    }
//	    return nil
//	}
//
// Registering it makes the type available to DecodeAny and lets the registry
// enforce an optional JSON Schema:
//
//	message.Default.Register(&message.Registration{
//	    Type:    BalanceType,
//	    Factory: func() message.Payload { return &Balance{} },
//	})
//
// Text, Int, Empty and JSON are registered by default for channels that carry
// a single scalar or no value at all.
package message
