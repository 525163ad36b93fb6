package channel

import "fmt"

// Result reports success or failure of an operation whose failure is an
// ordinary outcome rather than an error, such as unlinking twice.
type Result struct {
	OK      bool
	Message string
}

// Ok returns a successful Result
func Ok(message string) Result {
	return Result{OK: true, Message: message}
}

// Fail returns a failed Result
func Fail(message string) Result {
	return Result{OK: false, Message: message}
}

// String renders the result for logs
func (r Result) String() string {
	if r.OK {
		return fmt.Sprintf("ok: %s", r.Message)
	}
	return fmt.Sprintf("fail: %s", r.Message)
}

// Unlinker detaches a previously registered listener
type Unlinker interface {
	Unlink() Result
}

// UnlinkFunc adapts a function to Unlinker
type UnlinkFunc func() Result

// Unlink calls f
func (f UnlinkFunc) Unlink() Result { return f() }
