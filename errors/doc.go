// Package errors classifies failures raised by the router.
//
// # Classes
//
//   - Transient: no responders, timeouts, lost connections, a peer that left
//     mid-call. Retrying may succeed.
//   - Invalid: empty tokens, missing timeouts, payloads that fail validation,
//     errors returned by a remote callback. Retrying will not help.
//   - Fatal: role violations and other programmer errors. The caller should
//     stop and fix the code path.
//
// # Usage
//
//	if err := ev.FireServer(ctx, msg); err != nil {
//	    return errors.WrapTransient(err, "Inventory", "Sync", "fire inventory update")
//	}
//
// Use ForRetry inside a retry loop so that only transient failures are retried:
//
//	err := retry.Do(ctx, retry.Invoke(), func() error {
//	    return errors.ForRetry(call())
//	})
//
// The package shadows the standard library name; import the standard package
// under an alias (stderrors) when both are needed.
package errors
