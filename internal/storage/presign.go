package storage

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "consular/pkg/domain-errors"
)

const presignAudience = "consular-files"

// Grant is what a presigned download token authorizes.
type Grant struct {
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 download tokens. Tokens carry the object
// key, so a valid token is enough to stream the file until it expires.
type Signer struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(signingKey, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		key:     []byte(signingKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Presign returns a download URL for the object and its expiry.
func (s *Signer) Presign(key, fileName, contentType string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	grant := &Grant{
		Key:         key,
		FileName:    fileName,
		ContentType: contentType,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  []string{presignAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, grant).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign download token")
	}
	return s.baseURL + "/api/files/" + url.PathEscape(token), expires, nil
}

// Verify checks a download token and returns its grant.
func (s *Signer) Verify(token string) (*Grant, error) {
	parsed, err := jwt.ParseWithClaims(token, &Grant{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	},
		jwt.WithAudience(presignAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeForbidden, "download link has expired")
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "invalid download link")
	}
	grant, ok := parsed.Claims.(*Grant)
	if !ok || !parsed.Valid || grant.Key == "" {
		return nil, dErrors.New(dErrors.CodeForbidden, "invalid download link")
	}
	return grant, nil
}
