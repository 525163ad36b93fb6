package gateway

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
)

// ErrUnauthorized is returned for missing, expired or forged tokens
var ErrUnauthorized = stderrors.New("unauthorized")

const issuer = "networker"

// IssueToken mints an HS256 token whose subject is peer
func IssueToken(secret []byte, peer channel.PeerID, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.WrapInvalid(errors.ErrMissingConfig, "gateway", "IssueToken", "secret is empty")
	}
	if peer == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "IssueToken", "peer must be non-zero")
	}
	if ttl <= 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "IssueToken", "ttl must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   peer.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.WrapInvalid(err, "gateway", "IssueToken", "sign token")
	}
	return signed, nil
}

// ParseToken verifies token against secret and returns the peer it names
func ParseToken(secret []byte, token string) (channel.PeerID, error) {
	if token == "" {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: missing token", ErrUnauthorized), "gateway", "ParseToken", "read token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrUnauthorized, err), "gateway", "ParseToken", "verify token")
	}

	peer, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || peer == 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: bad subject %q", ErrUnauthorized, claims.Subject), "gateway", "ParseToken", "read subject")
	}
	return channel.PeerID(peer), nil
}

// tokenFromRequest reads a bearer token, falling back to the token query parameter
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
