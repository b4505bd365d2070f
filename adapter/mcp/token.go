package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds the validity of a signed user token. Tokens are minted per
// request, so a short lifetime is enough.
const tokenTTL = 2 * time.Hour

// SignedTokenSource mints per-user HS256 tokens from the workspace secret,
// the scheme the tool platform authenticates end users with.
func SignedTokenSource(secret string) TokenSource {
	key := []byte(secret)
	return func(ctx context.Context, userID string) (string, error) {
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID,
			"iat": now.Unix(),
			"exp": now.Add(tokenTTL).Unix(),
		})
		signed, err := token.SignedString(key)
		if err != nil {
			return "", fmt.Errorf("failed to sign token for user %v: %w", userID, err)
		}
		return signed, nil
	}
}
