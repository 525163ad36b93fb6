package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/networker/channel"
)

func TestIssueAndParseToken(t *testing.T) {
	tok, err := IssueToken(secret, 77, time.Minute)
	require.NoError(t, err)

	peer, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, channel.PeerID(77), peer)
}

func TestParseToken_Rejects(t *testing.T) {
	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "5",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	badSubject := valid
	badSubject.Subject = "player-five"
	zeroSubject := valid
	zeroSubject.Subject = "0"
	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"

	tests := map[string]string{
		"empty":         "",
		"garbage":       "a.b.c",
		"expired":       sign(jwt.SigningMethodHS256, secret, expired),
		"no expiry":     sign(jwt.SigningMethodHS256, secret, noExpiry),
		"bad subject":   sign(jwt.SigningMethodHS256, secret, badSubject),
		"zero subject":  sign(jwt.SigningMethodHS256, secret, zeroSubject),
		"other issuer":  sign(jwt.SigningMethodHS256, secret, otherIssuer),
		"other method":  sign(jwt.SigningMethodHS512, secret, valid),
		"other secret":  sign(jwt.SigningMethodHS256, []byte("different-secret"), valid),
		"unsigned none": sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(secret, tok)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestIssueToken_Validation(t *testing.T) {
	_, err := IssueToken(nil, 1, time.Minute)
	assert.Error(t, err)
	_, err = IssueToken(secret, 0, time.Minute)
	assert.Error(t, err)
	_, err = IssueToken(secret, 1, 0)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", tokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", tokenFromRequest(r))
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/ws", cfg.Path)
	assert.Equal(t, 50.0, cfg.RateLimit)
	assert.Equal(t, 100, cfg.Burst)
	assert.Equal(t, 30*time.Second, cfg.PingInterval())

	for name, mutate := range map[string]func(*Config){
		"negative rate":  func(c *Config) { c.RateLimit = -1 },
		"negative burst": func(c *Config) { c.Burst = -1 },
		"huge frames":    func(c *Config) { c.MaxFrameSize = 64 * 1024 * 1024 },
		"bad ping":       func(c *Config) { c.PingIntervalStr = "often" },
		"fast ping":      func(c *Config) { c.PingIntervalStr = "1ms" },
	} {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
