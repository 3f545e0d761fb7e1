package webserver

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// TokenTTL is how long an operator token stays valid.
const TokenTTL = 8 * time.Hour

// MintToken issues an HS256 bearer token for an operator login.
func MintToken(secret, username, level string) (string, error) {
	claims := jwt.MapClaims{
		"usr": username,
		"lvl": level,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(TokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}
