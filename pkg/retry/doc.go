// Package retry provides bounded exponential backoff for remote calls that may fail transiently.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Invoke(): 3 attempts, fixed 1s delay, used around request/response calls
//   - Quick(): 10 attempts, 50ms-1s delay, used while waiting for a peer to come up
//   - Persistent(): 30 attempts, 200ms-10s delay
//
// # Usage
//
//	resp, err := retry.DoWithResult(ctx, retry.Invoke(), func() (int, error) {
//	    return fn.InvokeServer(ctx, 5*time.Second, req)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately:
//
//	if errors.Is(err, channel.ErrRoleViolation) {
//	    return retry.NonRetryable(err)
//	}
package retry
