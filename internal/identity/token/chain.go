package token

import (
	dErrors "consular/pkg/domain-errors"
	authmw "consular/pkg/platform/middleware/auth"
)

// Chain accepts a token if any validator accepts it. Local sessions and
// remote identity provider tokens can then coexist.
type Chain []authmw.JWTValidator

func (c Chain) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	var firstErr error
	for _, v := range c {
		if v == nil {
			continue
		}
		claims, err := v.ValidateToken(tokenString)
		if err == nil {
			return claims, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return nil, firstErr
}
