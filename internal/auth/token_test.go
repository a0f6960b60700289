package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret, issuer, agentID string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier_HS256_Valid(t *testing.T) {
	v := NewHMACVerifier("test-secret", "relay")
	tok := signHS256(t, "test-secret", "relay", "agent-1", time.Hour)

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
}

func TestTokenVerifier_HS256_WrongSecret(t *testing.T) {
	v := NewHMACVerifier("test-secret", "relay")
	tok := signHS256(t, "wrong-secret", "relay", "agent-1", time.Hour)

	_, err := v.Verify(tok)
	assert.Error(t, err)
}

func TestTokenVerifier_HS256_Expired(t *testing.T) {
	v := NewHMACVerifier("test-secret", "relay")
	tok := signHS256(t, "test-secret", "relay", "agent-1", -time.Hour)

	_, err := v.Verify(tok)
	assert.Error(t, err)
}

func TestTokenVerifier_HS256_WrongIssuer(t *testing.T) {
	v := NewHMACVerifier("test-secret", "relay")
	tok := signHS256(t, "test-secret", "someone-else", "agent-1", time.Hour)

	_, err := v.Verify(tok)
	assert.Error(t, err)
}

func TestTokenVerifier_HS256_MissingAgentID(t *testing.T) {
	v := NewHMACVerifier("test-secret", "relay")
	tok := signHS256(t, "test-secret", "relay", "", time.Hour)

	_, err := v.Verify(tok)
	assert.Error(t, err)
}

func TestTokenVerifier_RejectsAlgorithmSubstitution(t *testing.T) {
	// A verifier configured for RS256 must reject an HS256 token even
	// when it carries a technically valid signature.
	v := NewRSAVerifier(nil, "relay")
	tok := signHS256(t, "test-secret", "relay", "agent-1", time.Hour)

	_, err := v.Verify(tok)
	assert.Error(t, err)
}
