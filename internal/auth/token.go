// Package auth provides the relay's authentication primitives: verifying
// the JWTs agents present on the `authenticate` socket frame, and hashing
// the static API keys operators use against the admin HTTP surface.
//
// The relay never issues tokens itself — that is the identity provider's
// job, upstream of this service. TokenVerifier only ever validates.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm selects which family of signing methods a TokenVerifier accepts.
type Algorithm string

const (
	AlgorithmHS256 Algorithm = "HS256"
	AlgorithmRS256 Algorithm = "RS256"
)

// Claims is the subset of the token payload the relay cares about. Any
// other claims the issuer includes are ignored.
type Claims struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens presented on the `authenticate`
// socket frame. It never generates or refreshes tokens.
type TokenVerifier struct {
	algorithm Algorithm
	hmacKey   []byte
	rsaKey    interface{} // *rsa.PublicKey, set only when algorithm is RS256
	issuer    string
}

// NewHMACVerifier builds a verifier for HS256-signed tokens.
func NewHMACVerifier(secret string, issuer string) *TokenVerifier {
	return &TokenVerifier{algorithm: AlgorithmHS256, hmacKey: []byte(secret), issuer: issuer}
}

// NewRSAVerifier builds a verifier for RS256-signed tokens, given a parsed
// RSA public key (e.g. from an x509 certificate or JWKS fetch).
func NewRSAVerifier(publicKey interface{}, issuer string) *TokenVerifier {
	return &TokenVerifier{algorithm: AlgorithmRS256, rsaKey: publicKey, issuer: issuer}
}

// Verify validates a token's signature, algorithm, expiration, and issuer,
// returning the claims on success.
//
// Algorithm verification is mandatory: a verifier configured for HS256
// rejects an RS256 token and vice versa, closing off the classic
// algorithm-substitution attack where a token's alg header is swapped for
// one the server will validate against the wrong kind of key.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch v.algorithm {
		case AlgorithmHS256:
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.hmacKey, nil
		case AlgorithmRS256:
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.rsaKey, nil
		default:
			return nil, fmt.Errorf("verifier not configured with a known algorithm")
		}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.AgentID == "" {
		return nil, fmt.Errorf("token missing agent_id claim")
	}

	return claims, nil
}
