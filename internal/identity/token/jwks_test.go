package token

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consular/pkg/domain"
)

const testKeyID = "consular-test-key"

func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	set := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(set)
	return data
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWKSValidator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON(&key.PublicKey))
	require.NoError(t, err)
	v := NewJWKSValidatorWithKeyfunc(kf, "https://idp.example.org", "consular-api")

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "0f8fad5b-d9cb-469f-a165-70867728950e",
			"sid": "sess-1",
			"jti": "tok-1",
			"iss": "https://idp.example.org",
			"aud": "consular-api",
			"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	t.Run("valid token maps subject", func(t *testing.T) {
		claims, err := v.ValidateToken(signRS256(t, key, base()))
		require.NoError(t, err)
		assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", claims.UserID)
		assert.Equal(t, "sess-1", claims.SessionID)
		assert.Equal(t, "tok-1", claims.JTI)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := base()
		c["iss"] = "https://evil.example.org"
		_, err := v.ValidateToken(signRS256(t, key, c))
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		c := base()
		delete(c, "sub")
		_, err := v.ValidateToken(signRS256(t, key, c))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		c := base()
		c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		_, err := v.ValidateToken(signRS256(t, key, c))
		assert.Error(t, err)
	})

	t.Run("HS256 rejected", func(t *testing.T) {
		hs, _, err := NewJWTService("k", "https://idp.example.org", "consular-api").Issue(id.UserID(uuid.New()), id.SessionID(uuid.New()), time.Hour)
		require.NoError(t, err)
		_, err = v.ValidateToken(hs)
		assert.Error(t, err)
	})
}
