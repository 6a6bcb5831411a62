package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the session id
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}
