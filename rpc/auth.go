package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig gates hm_sendCall behind an HS256 bearer token. A zero config
// leaves the method open.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
}

func (c AuthConfig) enabled() bool { return len(c.Secret) > 0 }

func (c AuthConfig) verify(r *http.Request) *RPCError {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	skew := c.ClockSkew
	if skew <= 0 {
		skew = time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(skew),
		jwt.WithExpirationRequired(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	parsed, err := jwt.Parse(strings.TrimSpace(token), func(*jwt.Token) (interface{}, error) {
		return c.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("token invalid")
		}
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	return nil
}

// IssueToken signs a short-lived HS256 token accepted by a server configured
// with the same secret and issuer.
func IssueToken(secret []byte, issuer, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("rpc: token secret required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
