package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	dErrors "consular/pkg/domain-errors"
	authmw "consular/pkg/platform/middleware/auth"
)

// remoteClaims are the claims of a token minted by an external identity
// provider. The subject is the consular user id.
type remoteClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// JWKSValidator validates RS256 tokens against a remote key set.
type JWKSValidator struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWKSValidator fetches the key set from jwksURL and refreshes it in the
// background. Startup does not fail if the provider is briefly unreachable.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer, audience string, refresh time.Duration, logger *slog.Logger) (*JWKSValidator, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "jwks refresh failed",
				"url", jwksURL,
				"error", err,
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	return NewJWKSValidatorWithKeyfunc(k, issuer, audience), nil
}

func NewJWKSValidatorWithKeyfunc(k keyfunc.Keyfunc, issuer, audience string) *JWKSValidator {
	return &JWKSValidator{jwks: k, issuer: issuer, audience: audience, leeway: 30 * time.Second}
}

func (v *JWKSValidator) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &remoteClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...)
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return &authmw.JWTClaims{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		JTI:       claims.ID,
	}, nil
}
