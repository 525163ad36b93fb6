package gateway

import (
	"fmt"
	"time"

	"github.com/c360/networker/errors"
)

// Frame operations
const (
	OpPub   = "pub"   // client publishes on a subject
	OpSub   = "sub"   // client subscribes, acknowledged with res
	OpUnsub = "unsub" // client drops a sub or serve registration
	OpReq   = "req"   // client request, answered with res or err
	OpRes   = "res"   // hub answer to req, sub or serve
	OpServe = "serve" // client serves requests on a subject, acknowledged with res
	OpCall  = "call"  // hub forwards a request to a serving client
	OpRet   = "ret"   // client answer to call
	OpMsg   = "msg"   // hub delivers a published message
	OpErr   = "err"   // failure for the frame with the same id
)

// Error codes carried in err frames
const (
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeInvalid      = "invalid"
	CodeNoResponders = "no_responders"
	CodeTimeout      = "timeout"
	CodeClosed       = "closed"
	CodeRefused      = "refused"
)

// Frame is one WebSocket text message in either direction.
//
// ID correlates a frame with its answer. For msg it names the subscription;
// for call it is a hub-assigned call id and Ref names the serve registration.
type Frame struct {
	Op        string `json:"op"`
	ID        uint64 `json:"id,omitempty"`
	Ref       uint64 `json:"ref,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Data      []byte `json:"data,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config holds configuration for the WebSocket hub
type Config struct {
	// Path is where the hub is mounted (default: "/ws")
	Path string `json:"path" yaml:"path"`

	// Namespace must match the router namespace behind the hub
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// AllowedOrigins lists accepted Origin headers. Empty means same origin only,
	// ["*"] accepts any origin (development only).
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`

	// RateLimit is the sustained publish/request rate per connection (default: 50/s)
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// Burst is the number of frames a connection may send at once (default: 100)
	Burst int `json:"burst" yaml:"burst"`

	// MaxFrameSize limits one inbound frame in bytes (default: 1MB)
	MaxFrameSize int64 `json:"max_frame_size" yaml:"max_frame_size"`

	// SendBuffer is the outbound frame queue per connection (default: 256)
	SendBuffer int `json:"send_buffer" yaml:"send_buffer"`

	// PingIntervalStr is how often the hub pings idle clients (default: "30s")
	PingIntervalStr string `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`

	pingInterval time.Duration
}

// Validate checks the configuration and fills defaults
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit cannot be negative")
	}
	if c.RateLimit == 0 {
		c.RateLimit = 50
	}
	if c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"burst cannot be negative")
	}
	if c.Burst == 0 {
		c.Burst = 100
	}
	if c.MaxFrameSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_frame_size cannot be negative")
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 1024 * 1024
	}
	if c.MaxFrameSize > 16*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_frame_size cannot exceed 16MB")
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}

	if c.PingIntervalStr == "" {
		c.pingInterval = 30 * time.Second
	} else {
		d, err := time.ParseDuration(c.PingIntervalStr)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid ping_interval format: %s", c.PingIntervalStr))
		}
		c.pingInterval = d
	}
	if c.pingInterval < 100*time.Millisecond || c.pingInterval > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"ping_interval must be between 100ms and 5m")
	}
	return nil
}

// PingInterval returns the parsed ping interval
func (c *Config) PingInterval() time.Duration {
	return c.pingInterval
}

// DefaultConfig returns default hub configuration
func DefaultConfig() Config {
	return Config{
		Path:            "/ws",
		RateLimit:       50,
		Burst:           100,
		MaxFrameSize:    1024 * 1024,
		SendBuffer:      256,
		PingIntervalStr: "30s",
	}
}
